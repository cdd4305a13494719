package settings

// DB setting keys and defaults for runtime-tunable engine behavior.
const (
	// ProbeIntervalSecondsKey controls the health probe poll interval.
	ProbeIntervalSecondsKey = "PROBE_INTERVAL_SECONDS"
	// ProbeMaxConcurrencyKey controls max concurrent health probes.
	ProbeMaxConcurrencyKey = "PROBE_MAX_CONCURRENCY"
	// AllowUnmeteredOrgsKey overrides the config flag for orgs without budgets.
	AllowUnmeteredOrgsKey = "ALLOW_UNMETERED_ORGS"
	// GatedStepKindsKey overrides the config list of approval-gated step kinds.
	GatedStepKindsKey = "GATED_STEP_KINDS"

	// DefaultProbeIntervalSeconds is the fallback probe interval (seconds).
	DefaultProbeIntervalSeconds = 30
	// DefaultProbeMaxConcurrency is the fallback max concurrent probes.
	DefaultProbeMaxConcurrency = 5
)
