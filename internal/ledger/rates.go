package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/aethergate/aethergate/internal/models"

	"gorm.io/gorm"
)

// ErrUnknownRate indicates no enabled rate row exists for a
// provider/model pair.
var ErrUnknownRate = errors.New("ledger: unknown provider/model rate")

// RatePolicy controls costing for unknown provider/model pairs.
type RatePolicy string

// Rate policies.
const (
	// RatePolicyError fails the ledger write on an unknown pair, so
	// cost attribution is never silently lost.
	RatePolicyError RatePolicy = "error"
	// RatePolicyFallback charges the configured fallback rates instead.
	RatePolicyFallback RatePolicy = "fallback"
)

type rateKey struct {
	provider string
	model    string
}

type rateSnapshot struct {
	rates  map[rateKey]models.ModelRate
	maxIn  int64
	maxOut int64
}

// Rates resolves per-token pricing from the rate table. The table is
// loaded into an atomic snapshot; Refresh reloads it.
type Rates struct {
	db     *gorm.DB
	policy RatePolicy

	fallbackInPer1K  int64
	fallbackOutPer1K int64

	snapshot atomic.Value // stores rateSnapshot
}

// NewRates constructs a rate resolver.
func NewRates(db *gorm.DB, policy RatePolicy, fallbackInPer1K, fallbackOutPer1K int64) *Rates {
	r := &Rates{
		db:               db,
		policy:           policy,
		fallbackInPer1K:  fallbackInPer1K,
		fallbackOutPer1K: fallbackOutPer1K,
	}
	r.snapshot.Store(rateSnapshot{rates: map[rateKey]models.ModelRate{}})
	return r
}

// Refresh reloads enabled rate rows into the snapshot.
func (r *Rates) Refresh(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("ledger: rates not initialized")
	}

	var rows []models.ModelRate
	if errFind := r.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("ledger: load rates: %w", errFind)
	}

	next := rateSnapshot{rates: make(map[rateKey]models.ModelRate, len(rows))}
	for _, row := range rows {
		key := rateKey{
			provider: strings.ToLower(strings.TrimSpace(row.Provider)),
			model:    strings.TrimSpace(row.Model),
		}
		next.rates[key] = row
		if row.InputRateMicrosPer1K > next.maxIn {
			next.maxIn = row.InputRateMicrosPer1K
		}
		if row.OutputRateMicrosPer1K > next.maxOut {
			next.maxOut = row.OutputRateMicrosPer1K
		}
	}
	r.snapshot.Store(next)
	return nil
}

func (r *Rates) load() rateSnapshot {
	current, _ := r.snapshot.Load().(rateSnapshot)
	if current.rates == nil {
		current.rates = map[rateKey]models.ModelRate{}
	}
	return current
}

// costMicros applies per-1K-token rates: round(tokens * rate / 1000).
func costMicros(inTokens, outTokens, inRate, outRate int64) int64 {
	total := float64(inTokens)*float64(inRate)/1000 + float64(outTokens)*float64(outRate)/1000
	return int64(math.Round(total))
}

// CostMicros prices one call. Unknown provider/model pairs follow the
// configured policy: ErrUnknownRate, or the fallback rates.
func (r *Rates) CostMicros(providerID, model string, inTokens, outTokens int64) (int64, error) {
	if r == nil {
		return 0, errors.New("ledger: rates not initialized")
	}
	key := rateKey{
		provider: strings.ToLower(strings.TrimSpace(providerID)),
		model:    strings.TrimSpace(model),
	}
	if rate, ok := r.load().rates[key]; ok {
		return costMicros(inTokens, outTokens, rate.InputRateMicrosPer1K, rate.OutputRateMicrosPer1K), nil
	}
	if r.policy == RatePolicyFallback {
		return costMicros(inTokens, outTokens, r.fallbackInPer1K, r.fallbackOutPer1K), nil
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrUnknownRate, providerID, model)
}

// EstimateMicros prices a pre-flight estimate conservatively, using the
// highest known rates (or the fallback rates when the table is empty).
func (r *Rates) EstimateMicros(inTokens, outTokens int64) int64 {
	if r == nil {
		return 0
	}
	current := r.load()
	inRate, outRate := current.maxIn, current.maxOut
	if inRate == 0 && outRate == 0 {
		inRate, outRate = r.fallbackInPer1K, r.fallbackOutPer1K
	}
	return costMicros(inTokens, outTokens, inRate, outRate)
}
