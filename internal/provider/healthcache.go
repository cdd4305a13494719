package provider

import (
	"context"
	"sync"
	"time"
)

// HealthCache stores recent provider liveness probe results with a TTL so
// the selector does not hammer daemon providers on every request.
//
// The cache is passed explicitly into the registry rather than held as
// process-global state, so tests can swap it and TTLs stay configurable.
type HealthCache interface {
	// Get returns the cached liveness and whether a fresh entry exists.
	Get(ctx context.Context, providerID string) (alive bool, ok bool)
	// Set stores a probe result for the given TTL.
	Set(ctx context.Context, providerID string, alive bool, ttl time.Duration)
}

type memoryHealthEntry struct {
	alive     bool
	expiresAt time.Time
}

// MemoryHealthCache is an in-process HealthCache.
type MemoryHealthCache struct {
	mu      sync.Mutex
	entries map[string]memoryHealthEntry
	now     func() time.Time
}

// NewMemoryHealthCache constructs an empty in-process health cache.
func NewMemoryHealthCache() *MemoryHealthCache {
	return &MemoryHealthCache{
		entries: make(map[string]memoryHealthEntry),
		now:     time.Now,
	}
}

// Get returns the cached liveness for a provider, if unexpired.
func (c *MemoryHealthCache) Get(_ context.Context, providerID string) (bool, bool) {
	if c == nil {
		return false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[providerID]
	if !ok {
		return false, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, providerID)
		return false, false
	}
	return entry.alive, true
}

// Set stores a probe result with the given TTL.
func (c *MemoryHealthCache) Set(_ context.Context, providerID string, alive bool, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[providerID] = memoryHealthEntry{
		alive:     alive,
		expiresAt: c.now().Add(ttl),
	}
}

var _ HealthCache = (*MemoryHealthCache)(nil)
