package provider

import (
	"context"
	"sync"
	"time"

	"github.com/aethergate/aethergate/internal/settings"

	log "github.com/sirupsen/logrus"
)

// ProbePoller periodically refreshes daemon provider liveness into the
// health cache so request-path selection rarely probes inline.
type ProbePoller struct {
	registry *Registry
	interval time.Duration
}

// NewProbePoller constructs a probe poller.
func NewProbePoller(registry *Registry) *ProbePoller {
	if registry == nil {
		return nil
	}
	return &ProbePoller{
		registry: registry,
		interval: time.Duration(settings.DefaultProbeIntervalSeconds) * time.Second,
	}
}

// Start launches the polling loop in a background goroutine.
func (p *ProbePoller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("probe poller started (interval=%s)", p.interval)
}

func (p *ProbePoller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		interval := p.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if interval <= 0 {
			interval = p.interval
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (p *ProbePoller) poll(ctx context.Context) time.Duration {
	if p == nil {
		return 0
	}

	intervalSeconds := settings.Int(settings.ProbeIntervalSecondsKey, settings.DefaultProbeIntervalSeconds)
	if intervalSeconds <= 0 {
		intervalSeconds = settings.DefaultProbeIntervalSeconds
	}
	interval := time.Duration(intervalSeconds) * time.Second

	maxConcurrency := settings.Int(settings.ProbeMaxConcurrencyKey, settings.DefaultProbeMaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for _, desc := range p.registry.Descriptors() {
		if desc.KeyBased() {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return interval
		}

		wg.Add(1)
		descCopy := desc
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if !p.registry.Probe(ctx, descCopy) {
				log.Warnf("probe poller: provider down (provider=%s)", descCopy.ID)
			}
		}()
	}

	wg.Wait()
	return interval
}
