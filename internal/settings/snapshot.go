package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot holds the in-memory settings values.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

// globalSnapshot stores the latest snapshot atomically.
var globalSnapshot atomic.Value // stores snapshot

func init() {
	globalSnapshot.Store(snapshot{values: map[string]json.RawMessage{}})
}

// Store replaces the in-memory snapshot of DB-backed settings.
func Store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if v == nil {
			next[key] = nil
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}

	globalSnapshot.Store(snapshot{
		updatedAt: updatedAt.UTC(),
		values:    next,
	})
}

func load() snapshot {
	current, _ := globalSnapshot.Load().(snapshot)
	if current.values == nil {
		current.values = map[string]json.RawMessage{}
	}
	return current
}

// UpdatedAt returns the last update timestamp of the snapshot.
func UpdatedAt() time.Time {
	return load().updatedAt
}

// Value returns a copy of the raw setting value for a key.
func Value(key string) (json.RawMessage, bool) {
	current := load()
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := current.values[key]
	if !ok {
		return nil, false
	}
	if val == nil {
		return nil, true
	}
	copied := make([]byte, len(val))
	copy(copied, val)
	return copied, true
}

// Int returns an integer setting, falling back when absent or malformed.
func Int(key string, fallback int) int {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var parsed int
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}

// Bool returns a boolean setting, falling back when absent or malformed.
func Bool(key string, fallback bool) bool {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var parsed bool
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}

// Strings returns a string-list setting, falling back when absent or malformed.
func Strings(key string, fallback []string) []string {
	raw, ok := Value(key)
	if !ok || len(raw) == 0 {
		return fallback
	}
	var parsed []string
	if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal != nil {
		return fallback
	}
	return parsed
}
