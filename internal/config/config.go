package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no explicit config path is provided.
const DefaultConfigPath = "config.yaml"

// Duration wraps time.Duration for YAML parsing ("500ms", "30s", ...).
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if errDecode := value.Decode(&raw); errDecode != nil {
		return errDecode
	}
	parsed, errParse := time.ParseDuration(strings.TrimSpace(raw))
	if errParse != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, errParse)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the optional Redis-backed health cache.
// An empty Addr selects the in-memory cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig configures token signing for members and operators.
type JWTConfig struct {
	Secret string   `yaml:"secret"`
	Expiry Duration `yaml:"expiry"`
}

// LogConfig configures logging output and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EngineConfig holds orchestration tunables.
type EngineConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryBase      Duration `yaml:"retry_base"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	HealthTTL      Duration `yaml:"health_ttl"`

	// AllowUnmetered lets requests through for organizations without any
	// budget row. When false such requests are denied.
	AllowUnmetered bool `yaml:"allow_unmetered"`

	// GatedStepKinds lists decision trace step kinds that require human
	// approval before the request may proceed.
	GatedStepKinds []string `yaml:"gated_step_kinds"`

	// UnknownRatePolicy controls costing for provider/model pairs absent
	// from the rate table: "error" fails the ledger write, "fallback"
	// charges the fallback rates below.
	UnknownRatePolicy             string `yaml:"unknown_rate_policy"`
	FallbackInputRateMicrosPer1K  int64  `yaml:"fallback_input_rate_micros_per_1k"`
	FallbackOutputRateMicrosPer1K int64  `yaml:"fallback_output_rate_micros_per_1k"`

	// DefaultEstimateOutputTokens sizes the pre-flight cost estimate when
	// the caller does not bound output tokens.
	DefaultEstimateOutputTokens int64 `yaml:"default_estimate_output_tokens"`
}

// ProviderConfig declares one static provider descriptor.
type ProviderConfig struct {
	ID          string   `yaml:"id"`
	Tier        string   `yaml:"tier"`
	Models      []string `yaml:"models"`
	Priority    int      `yaml:"priority"`
	SecretEnv   string   `yaml:"secret_env"`
	BaseURL     string   `yaml:"base_url"`
	Specialties []string `yaml:"specialties"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	JWT       JWTConfig        `yaml:"jwt"`
	Log       LogConfig        `yaml:"log"`
	Engine    EngineConfig     `yaml:"engine"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ResolveConfigPath returns the cleaned config path, defaulting when empty.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return filepath.Clean(trimmed)
}

// Load reads and parses the YAML config file, applying defaults.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		return nil, fmt.Errorf("config: read: %w", errRead)
	}
	cfg := &Config{}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}
	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8318"
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = Duration(24 * time.Hour)
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = 3
	}
	if c.Engine.RetryBase <= 0 {
		c.Engine.RetryBase = Duration(500 * time.Millisecond)
	}
	if c.Engine.RetryMaxDelay <= 0 {
		c.Engine.RetryMaxDelay = Duration(30 * time.Second)
	}
	if c.Engine.AttemptTimeout <= 0 {
		c.Engine.AttemptTimeout = Duration(60 * time.Second)
	}
	if c.Engine.HealthTTL <= 0 {
		c.Engine.HealthTTL = Duration(30 * time.Second)
	}
	if strings.TrimSpace(c.Engine.UnknownRatePolicy) == "" {
		c.Engine.UnknownRatePolicy = "error"
	}
	if c.Engine.DefaultEstimateOutputTokens <= 0 {
		c.Engine.DefaultEstimateOutputTokens = 1024
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	switch c.Engine.UnknownRatePolicy {
	case "error", "fallback":
	default:
		return fmt.Errorf("config: engine.unknown_rate_policy must be error or fallback, got %q", c.Engine.UnknownRatePolicy)
	}
	seen := map[string]struct{}{}
	for _, p := range c.Providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("config: provider with empty id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate provider id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
