package provider

import (
	"fmt"
	"strings"
)

// Tier classifies a provider by cost.
type Tier string

// Provider cost tiers, cheapest first.
const (
	// TierFree costs nothing to call.
	TierFree Tier = "free"
	// TierUserKey bills against a user-supplied API key.
	TierUserKey Tier = "user-key"
	// TierPlatformCredit bills against platform credits and is excluded
	// from selection unless cheaper tiers are exhausted or quality is
	// explicitly requested.
	TierPlatformCredit Tier = "platform-credit"
)

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierUserKey || t == TierPlatformCredit
}

// Rank orders tiers cheapest-first for selection.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierUserKey:
		return 1
	case TierPlatformCredit:
		return 2
	default:
		return 3
	}
}

// variantKind tags how a provider's liveness is determined.
type variantKind int

const (
	// kindKey providers are alive iff their secret is present.
	kindKey variantKind = iota + 1
	// kindDaemon providers are alive per a cached health probe.
	kindDaemon
)

// Descriptor is a static provider declaration. Construct via NewKeyProvider
// or NewDaemonProvider; invalid descriptors are rejected at construction.
type Descriptor struct {
	ID          string
	Tier        Tier
	Models      []string // ordered, preferred first
	Priority    int      // lower sorts first
	Specialties []string // topic tags used by roundtable ranking

	kind   variantKind
	secret string
}

func validateDescriptor(id string, tier Tier, models []string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("provider: empty id")
	}
	if !tier.Valid() {
		return fmt.Errorf("provider: %s: unknown tier %q", id, tier)
	}
	if len(models) == 0 {
		return fmt.Errorf("provider: %s: no models declared", id)
	}
	for _, model := range models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("provider: %s: empty model name", id)
		}
	}
	return nil
}

// NewKeyProvider builds a key-based provider descriptor. Liveness is the
// presence of the secret.
func NewKeyProvider(id string, tier Tier, models []string, priority int, secret string, specialties ...string) (*Descriptor, error) {
	if errValidate := validateDescriptor(id, tier, models); errValidate != nil {
		return nil, errValidate
	}
	return &Descriptor{
		ID:          strings.TrimSpace(id),
		Tier:        tier,
		Models:      append([]string(nil), models...),
		Priority:    priority,
		Specialties: append([]string(nil), specialties...),
		kind:        kindKey,
		secret:      strings.TrimSpace(secret),
	}, nil
}

// NewDaemonProvider builds a daemon-based provider descriptor. Liveness
// comes from a cached health probe.
func NewDaemonProvider(id string, tier Tier, models []string, priority int, specialties ...string) (*Descriptor, error) {
	if errValidate := validateDescriptor(id, tier, models); errValidate != nil {
		return nil, errValidate
	}
	return &Descriptor{
		ID:          strings.TrimSpace(id),
		Tier:        tier,
		Models:      append([]string(nil), models...),
		Priority:    priority,
		Specialties: append([]string(nil), specialties...),
		kind:        kindDaemon,
	}, nil
}

// KeyBased reports whether liveness is determined by secret presence.
func (d *Descriptor) KeyBased() bool {
	return d != nil && d.kind == kindKey
}

// HasSecret reports whether a key-based provider holds a secret.
func (d *Descriptor) HasSecret() bool {
	return d != nil && d.secret != ""
}

// ModelFor returns the model to use for a task hint: the first declared
// model containing the hint, or the first declared model when nothing
// matches or the hint is empty.
func (d *Descriptor) ModelFor(taskHint string) string {
	if d == nil || len(d.Models) == 0 {
		return ""
	}
	hint := strings.ToLower(strings.TrimSpace(taskHint))
	if hint != "" {
		for _, model := range d.Models {
			if strings.Contains(strings.ToLower(model), hint) {
				return model
			}
		}
	}
	return d.Models[0]
}

// Serves reports whether the descriptor declares a model matching the hint.
func (d *Descriptor) Serves(taskHint string) bool {
	if d == nil {
		return false
	}
	hint := strings.ToLower(strings.TrimSpace(taskHint))
	if hint == "" {
		return true
	}
	for _, model := range d.Models {
		if strings.Contains(strings.ToLower(model), hint) {
			return true
		}
	}
	return false
}

// Relevance scores the descriptor's specialties against topic terms.
// Used by topic_based roundtable ranking.
func (d *Descriptor) Relevance(topic string) int {
	if d == nil {
		return 0
	}
	terms := strings.Fields(strings.ToLower(strings.TrimSpace(topic)))
	if len(terms) == 0 {
		return 0
	}
	score := 0
	for _, specialty := range d.Specialties {
		lowered := strings.ToLower(specialty)
		for _, term := range terms {
			if strings.Contains(lowered, term) || strings.Contains(term, lowered) {
				score++
			}
		}
	}
	return score
}
