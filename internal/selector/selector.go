// Package selector orders candidate providers for a task by cost tier
// preference and cached availability.
package selector

import (
	"context"
	"errors"
	"sort"

	"github.com/aethergate/aethergate/internal/provider"
)

// ErrNoProviderAvailable indicates nothing passed the liveness filter.
var ErrNoProviderAvailable = errors.New("selector: no provider available")

// Selector picks and orders candidate providers.
type Selector struct {
	registry *provider.Registry
}

// New constructs a selector over a registry.
func New(registry *provider.Registry) *Selector {
	return &Selector{registry: registry}
}

// ListAvailable returns liveness-filtered, priority-sorted descriptors.
func (s *Selector) ListAvailable(ctx context.Context) []*provider.Descriptor {
	if s == nil || s.registry == nil {
		return nil
	}
	return s.registry.ListAvailable(ctx)
}

// Select returns the ordered candidate list for a task.
//
// Economy tiers (free, user-key) come first, cheapest tier then priority.
// The platform-credit tier is excluded unless every cheaper tier is
// unavailable, or quality is explicitly requested, in which case credit
// providers lead the list. Providers serving the task hint sort before
// those that merely fall back to their default model.
func (s *Selector) Select(ctx context.Context, taskHint string, preferQuality bool) ([]*provider.Descriptor, error) {
	available := s.ListAvailable(ctx)
	if len(available) == 0 {
		return nil, ErrNoProviderAvailable
	}

	var economy, credit []*provider.Descriptor
	for _, desc := range available {
		if desc.Tier == provider.TierPlatformCredit {
			credit = append(credit, desc)
		} else {
			economy = append(economy, desc)
		}
	}

	orderCandidates(economy, taskHint)
	orderCandidates(credit, taskHint)

	var candidates []*provider.Descriptor
	switch {
	case preferQuality:
		candidates = append(append(candidates, credit...), economy...)
	case len(economy) > 0:
		candidates = economy
	default:
		candidates = credit
	}

	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return candidates, nil
}

// orderCandidates sorts in place: hint-serving providers first, then
// cheaper tier, then priority. The sort is stable so the registry's
// priority order breaks remaining ties.
func orderCandidates(descriptors []*provider.Descriptor, taskHint string) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		a, b := descriptors[i], descriptors[j]
		aServes, bServes := a.Serves(taskHint), b.Serves(taskHint)
		if aServes != bServes {
			return aServes
		}
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		return a.Priority < b.Priority
	})
}
