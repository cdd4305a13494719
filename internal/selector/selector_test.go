package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aethergate/aethergate/internal/provider"
)

type okAdapter struct{}

func (okAdapter) Call(_ context.Context, _, _ string) (*provider.CallResult, error) {
	return &provider.CallResult{Content: "ok"}, nil
}

func (okAdapter) Health(_ context.Context) bool { return true }

// tierRegistry builds a registry with one provider per entry. An empty
// secret leaves a key-based provider down.
func tierRegistry(t *testing.T, entries []struct {
	id     string
	tier   provider.Tier
	secret string
}) *provider.Registry {
	t.Helper()
	registry := provider.NewRegistry(provider.NewMemoryHealthCache(), time.Second)
	for i, entry := range entries {
		desc, errDesc := provider.NewKeyProvider(entry.id, entry.tier, []string{entry.id + "-model"}, i, entry.secret)
		if errDesc != nil {
			t.Fatalf("descriptor %s: %v", entry.id, errDesc)
		}
		if errRegister := registry.Register(desc, okAdapter{}); errRegister != nil {
			t.Fatalf("register %s: %v", entry.id, errRegister)
		}
	}
	return registry
}

func ids(descriptors []*provider.Descriptor) []string {
	out := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, desc.ID)
	}
	return out
}

func TestCreditTierExcludedWhileEconomyIsUp(t *testing.T) {
	registry := tierRegistry(t, []struct {
		id     string
		tier   provider.Tier
		secret string
	}{
		{"free-a", provider.TierFree, "sk"},
		{"userkey-a", provider.TierUserKey, "sk"},
		{"credit-a", provider.TierPlatformCredit, "sk"},
	})

	candidates, err := New(registry).Select(context.Background(), "", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, desc := range candidates {
		if desc.Tier == provider.TierPlatformCredit {
			t.Fatalf("platform-credit provider %s selected while cheaper tiers are up", desc.ID)
		}
	}
	got := ids(candidates)
	if len(got) != 2 || got[0] != "free-a" || got[1] != "userkey-a" {
		t.Errorf("candidates = %v, want [free-a userkey-a]", got)
	}
}

func TestCreditTierUsedWhenEconomyIsDown(t *testing.T) {
	registry := tierRegistry(t, []struct {
		id     string
		tier   provider.Tier
		secret string
	}{
		{"free-a", provider.TierFree, ""},
		{"userkey-a", provider.TierUserKey, ""},
		{"credit-a", provider.TierPlatformCredit, "sk"},
	})

	candidates, err := New(registry).Select(context.Background(), "", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := ids(candidates)
	if len(got) != 1 || got[0] != "credit-a" {
		t.Errorf("candidates = %v, want fallback to [credit-a]", got)
	}
}

func TestPreferQualityPutsCreditFirst(t *testing.T) {
	registry := tierRegistry(t, []struct {
		id     string
		tier   provider.Tier
		secret string
	}{
		{"free-a", provider.TierFree, "sk"},
		{"credit-a", provider.TierPlatformCredit, "sk"},
	})

	candidates, err := New(registry).Select(context.Background(), "", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := ids(candidates)
	if len(got) != 2 || got[0] != "credit-a" || got[1] != "free-a" {
		t.Errorf("candidates = %v, want credit first then economy", got)
	}
}

func TestNoProviderAvailable(t *testing.T) {
	registry := tierRegistry(t, []struct {
		id     string
		tier   provider.Tier
		secret string
	}{
		{"free-a", provider.TierFree, ""},
		{"credit-a", provider.TierPlatformCredit, ""},
	})

	_, err := New(registry).Select(context.Background(), "", false)
	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("err = %v, want ErrNoProviderAvailable", err)
	}
}

func TestHintServingProvidersSortFirst(t *testing.T) {
	registry := provider.NewRegistry(provider.NewMemoryHealthCache(), time.Second)

	generalist, errGeneral := provider.NewKeyProvider("generalist", provider.TierFree, []string{"general"}, 0, "sk")
	if errGeneral != nil {
		t.Fatalf("descriptor: %v", errGeneral)
	}
	coder, errCoder := provider.NewKeyProvider("coder", provider.TierFree, []string{"coder-large"}, 1, "sk")
	if errCoder != nil {
		t.Fatalf("descriptor: %v", errCoder)
	}
	for _, desc := range []*provider.Descriptor{generalist, coder} {
		if errRegister := registry.Register(desc, okAdapter{}); errRegister != nil {
			t.Fatalf("register: %v", errRegister)
		}
	}

	candidates, err := New(registry).Select(context.Background(), "coder", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if candidates[0].ID != "coder" {
		t.Errorf("first candidate = %s, want the hint-serving provider despite higher priority value", candidates[0].ID)
	}
}
