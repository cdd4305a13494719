// Package trace records per-request decision audit steps and gates
// configured step kinds behind human approval.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/settings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Step describes one orchestration decision to append.
type Step struct {
	Kind         string
	Decision     string
	Reasoning    string
	Confidence   float64
	Alternatives []string
}

// Service appends decision trace steps with per-request sequencing.
type Service struct {
	db *gorm.DB

	// defaultGatedKinds applies when the GATED_STEP_KINDS setting is unset.
	defaultGatedKinds []string
}

// NewService constructs a trace service. gatedKinds lists step kinds that
// require human approval (the GATED_STEP_KINDS setting overrides it).
func NewService(db *gorm.DB, gatedKinds []string) *Service {
	return &Service{
		db:                db,
		defaultGatedKinds: append([]string(nil), gatedKinds...),
	}
}

// Gated reports whether a step kind requires human approval.
func (s *Service) Gated(kind string) bool {
	if s == nil {
		return false
	}
	kind = strings.TrimSpace(kind)
	for _, gated := range settings.Strings(settings.GatedStepKindsKey, s.defaultGatedKinds) {
		if strings.EqualFold(strings.TrimSpace(gated), kind) {
			return true
		}
	}
	return false
}

// Append assigns the next stepNumber for the request and records the
// step. A gated step is created pending and the owning request is
// suspended to awaiting_approval. No goroutine or lock is held while a
// human decides. The returned bool reports whether the step is pending
// approval.
func (s *Service) Append(ctx context.Context, requestID uint64, step Step) (*models.DecisionTrace, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("trace: service not initialized")
	}
	if strings.TrimSpace(step.Kind) == "" {
		return nil, false, fmt.Errorf("trace: empty step kind")
	}

	var alternatives datatypes.JSON
	if len(step.Alternatives) > 0 {
		encoded, errMarshal := json.Marshal(step.Alternatives)
		if errMarshal != nil {
			return nil, false, fmt.Errorf("trace: encode alternatives: %w", errMarshal)
		}
		alternatives = datatypes.JSON(encoded)
	}

	status := models.ApprovalNotRequired
	gated := s.Gated(step.Kind)
	if gated {
		status = models.ApprovalPending
	}

	row := models.DecisionTrace{
		RequestID:      requestID,
		Kind:           strings.TrimSpace(step.Kind),
		Decision:       step.Decision,
		Reasoning:      step.Reasoning,
		Confidence:     step.Confidence,
		Alternatives:   alternatives,
		ApprovalStatus: status,
	}

	if errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the owning request to serialize step number assignment.
		var request models.Request
		if errLock := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&request, requestID).Error; errLock != nil {
			return fmt.Errorf("load request %d: %w", requestID, errLock)
		}

		var maxStep int
		if errMax := tx.Model(&models.DecisionTrace{}).
			Where("request_id = ?", requestID).
			Select("COALESCE(MAX(step_number), 0)").
			Scan(&maxStep).Error; errMax != nil {
			return errMax
		}
		row.StepNumber = maxStep + 1

		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}

		if gated && !request.State.Terminal() {
			if errSuspend := tx.Model(&models.Request{}).
				Where("id = ?", requestID).
				Update("state", models.RequestStateAwaitingApproval).Error; errSuspend != nil {
				return errSuspend
			}
		}
		return nil
	}); errTx != nil {
		return nil, false, fmt.Errorf("trace: append: %w", errTx)
	}

	return &row, gated, nil
}

// ListForRequest returns a request's trace in step order.
func (s *Service) ListForRequest(ctx context.Context, requestID uint64) ([]models.DecisionTrace, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("trace: service not initialized")
	}
	var rows []models.DecisionTrace
	if errFind := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("step_number ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
