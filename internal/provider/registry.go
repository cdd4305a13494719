package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// defaultProbeTimeout bounds one direct health probe.
const defaultProbeTimeout = 5 * time.Second

// Registry holds the provider descriptors and their adapters, and answers
// liveness questions through the health cache.
type Registry struct {
	mu          sync.RWMutex
	descriptors []*Descriptor
	adapters    map[string]Adapter

	health       HealthCache
	ttl          time.Duration
	probeTimeout time.Duration
}

// NewRegistry constructs a registry using the given health cache and probe TTL.
func NewRegistry(health HealthCache, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{
		adapters:     make(map[string]Adapter),
		health:       health,
		ttl:          ttl,
		probeTimeout: defaultProbeTimeout,
	}
}

// Register adds a descriptor and its adapter. Registration order is
// preserved and duplicate IDs are rejected.
func (r *Registry) Register(desc *Descriptor, adapter Adapter) error {
	if r == nil {
		return fmt.Errorf("provider: nil registry")
	}
	if desc == nil {
		return fmt.Errorf("provider: nil descriptor")
	}
	if adapter == nil {
		return fmt.Errorf("provider: %s: nil adapter", desc.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[desc.ID]; exists {
		return fmt.Errorf("provider: duplicate id %q", desc.ID)
	}
	r.descriptors = append(r.descriptors, desc)
	r.adapters[desc.ID] = adapter
	return nil
}

// Get returns the descriptor and adapter for a provider ID.
func (r *Registry) Get(id string) (*Descriptor, Adapter, bool) {
	if r == nil {
		return nil, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, nil, false
	}
	for _, desc := range r.descriptors {
		if desc.ID == id {
			return desc, adapter, true
		}
	}
	return nil, nil, false
}

// Descriptors returns all registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.descriptors...)
}

// Alive reports provider liveness: secret presence for key-based
// providers, cached health probe (probing on a cache miss) for daemons.
func (r *Registry) Alive(ctx context.Context, desc *Descriptor) bool {
	if r == nil || desc == nil {
		return false
	}
	if desc.KeyBased() {
		return desc.HasSecret()
	}
	if r.health != nil {
		if alive, ok := r.health.Get(ctx, desc.ID); ok {
			return alive
		}
	}
	return r.Probe(ctx, desc)
}

// Probe runs a direct health probe against a daemon provider and caches
// the result for the registry TTL.
func (r *Registry) Probe(ctx context.Context, desc *Descriptor) bool {
	if r == nil || desc == nil {
		return false
	}
	r.mu.RLock()
	adapter := r.adapters[desc.ID]
	r.mu.RUnlock()
	if adapter == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	alive := adapter.Health(probeCtx)

	if r.health != nil {
		r.health.Set(ctx, desc.ID, alive, r.ttl)
	}
	return alive
}

// ListAvailable returns liveness-filtered descriptors sorted by priority,
// with registration order as the tiebreak.
func (r *Registry) ListAvailable(ctx context.Context) []*Descriptor {
	if r == nil {
		return nil
	}
	descriptors := r.Descriptors()
	available := make([]*Descriptor, 0, len(descriptors))
	for _, desc := range descriptors {
		if r.Alive(ctx, desc) {
			available = append(available, desc)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Priority < available[j].Priority
	})
	return available
}
