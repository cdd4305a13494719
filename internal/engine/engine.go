// Package engine orchestrates provider requests end to end: budget
// pre-flight, provider selection, dispatch with retries, usage
// recording, and decision tracing with approval gates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/dispatch"
	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"
	"github.com/aethergate/aethergate/internal/selector"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Decision trace step kinds emitted by the orchestrator.
const (
	StepProviderSelection = "provider_selection"
	StepRetry             = "retry"
	StepFailover          = "failover"
	StepCompletion        = "completion"
	StepFailure           = "failure"
	StepResumption        = "resumption"
)

// ErrRequestNotFound reports an operation against an unknown request.
var ErrRequestNotFound = errors.New("engine: request not found")

// TaskSpec describes one dispatch request from a caller.
type TaskSpec struct {
	MemberID        *uint64
	TaskHint        string
	PreferQuality   bool
	Prompt          string
	MaxOutputTokens int64
}

// Outcome is the result of a dispatch call. Result is nil while the
// request sits behind a pending approval gate.
type Outcome struct {
	Request      *models.Request
	Result       *dispatch.Result
	PendingTrace *models.DecisionTrace
}

// Orchestrator ties the engine components together.
type Orchestrator struct {
	db         *gorm.DB
	cfg        config.EngineConfig
	selector   *selector.Selector
	dispatcher *dispatch.Engine
	governor   *budget.Governor
	ledger     *ledger.Ledger
	tracer     *trace.Service
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(db *gorm.DB, cfg config.EngineConfig, sel *selector.Selector, dispatcher *dispatch.Engine, governor *budget.Governor, journal *ledger.Ledger, tracer *trace.Service) *Orchestrator {
	return &Orchestrator{
		db:         db,
		cfg:        cfg,
		selector:   sel,
		dispatcher: dispatcher,
		governor:   governor,
		ledger:     journal,
		tracer:     tracer,
	}
}

// estimateInputTokens approximates prompt tokens for pre-flight cost
// estimation. Four characters per token is close enough for a ceiling
// check.
func estimateInputTokens(prompt string) int64 {
	return int64(len(prompt))/4 + 1
}

func (o *Orchestrator) estimateMicros(prompt string, maxOutputTokens int64) int64 {
	outTokens := maxOutputTokens
	if outTokens <= 0 {
		outTokens = o.cfg.DefaultEstimateOutputTokens
	}
	return o.ledger.Rates().EstimateMicros(estimateInputTokens(prompt), outTokens)
}

// Dispatch runs one request end to end. A pending approval gate returns
// an Outcome with a nil Result and the request in awaiting_approval; the
// approval gate re-drives it later via Resume. No worker or lock stays
// held while a request awaits approval.
func (o *Orchestrator) Dispatch(ctx context.Context, orgID uint64, spec TaskSpec) (*Outcome, error) {
	request := &models.Request{
		PublicID:      uuid.NewString(),
		OrgID:         orgID,
		MemberID:      spec.MemberID,
		State:         models.RequestStateQueued,
		TaskHint:      strings.TrimSpace(spec.TaskHint),
		PreferQuality: spec.PreferQuality,
		Prompt:        spec.Prompt,
	}
	if errCreate := o.db.WithContext(ctx).Create(request).Error; errCreate != nil {
		return nil, fmt.Errorf("engine: create request: %w", errCreate)
	}

	estimate := o.estimateMicros(spec.Prompt, spec.MaxOutputTokens)
	reservation, errBudget := o.governor.CheckAllowance(ctx, orgID, estimate)
	if errBudget != nil {
		o.failRequest(ctx, request, errBudget.Error())
		return nil, errBudget
	}
	defer reservation.Release()

	// Plan step. Gating it suspends the request before any provider call
	// or spend happens.
	step, pending, errTrace := o.tracer.Append(ctx, request.ID, trace.Step{
		Kind:       StepProviderSelection,
		Decision:   "select providers and dispatch",
		Reasoning:  planReasoning(spec),
		Confidence: 1,
	})
	if errTrace != nil {
		o.failRequest(ctx, request, errTrace.Error())
		return nil, errTrace
	}
	if pending {
		request.State = models.RequestStateAwaitingApproval
		return &Outcome{Request: request, PendingTrace: step}, nil
	}

	result, errRun := o.execute(ctx, request)
	if errRun != nil {
		return nil, errRun
	}
	return &Outcome{Request: request, Result: result}, nil
}

func planReasoning(spec TaskSpec) string {
	parts := []string{"cheapest available tier first"}
	if spec.PreferQuality {
		parts[0] = "quality tier requested"
	}
	if spec.TaskHint != "" {
		parts = append(parts, fmt.Sprintf("task hint %q", spec.TaskHint))
	}
	return strings.Join(parts, "; ")
}

// Resume re-drives a request whose pending gate was approved. It
// re-checks the budget (spend may have moved while suspended) and skips
// the plan step so the request is not gated twice.
func (o *Orchestrator) Resume(ctx context.Context, requestID uint64) error {
	var request models.Request
	if errLoad := o.db.WithContext(ctx).Take(&request, requestID).Error; errLoad != nil {
		if errors.Is(errLoad, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		return errLoad
	}
	if request.State != models.RequestStateAwaitingApproval {
		// Already resumed, rejected, or finished. Nothing to do.
		return nil
	}

	estimate := o.estimateMicros(request.Prompt, 0)
	reservation, errBudget := o.governor.CheckAllowance(ctx, request.OrgID, estimate)
	if errBudget != nil {
		o.failRequest(ctx, &request, errBudget.Error())
		return errBudget
	}
	defer reservation.Release()

	if _, _, errTrace := o.tracer.Append(ctx, request.ID, trace.Step{
		Kind:       StepResumption,
		Decision:   "resume after approval",
		Confidence: 1,
	}); errTrace != nil {
		log.WithError(errTrace).Warnf("record resumption step for request %d failed", request.ID)
	}

	_, errRun := o.execute(ctx, &request)
	return errRun
}

// execute runs selection, dispatch, usage recording, and the terminal
// state transition for a request.
func (o *Orchestrator) execute(ctx context.Context, request *models.Request) (*dispatch.Result, error) {
	o.setState(ctx, request, models.RequestStateRunning)

	candidates, errSelect := o.selector.Select(ctx, request.TaskHint, request.PreferQuality)
	if errSelect != nil {
		o.failRequest(ctx, request, errSelect.Error())
		return nil, errSelect
	}

	result, errDispatch := o.dispatchTraced(ctx, request, candidates)
	if errDispatch != nil {
		if ctx.Err() != nil {
			o.setState(ctx, request, models.RequestStateCancelled)
			return nil, errDispatch
		}
		o.failRequest(ctx, request, errDispatch.Error())
		return nil, errDispatch
	}

	if _, errRecord := o.ledger.RecordUsage(ctx, ledger.Params{
		OrgID:       request.OrgID,
		MemberID:    request.MemberID,
		RequestID:   &request.ID,
		Provider:    result.ProviderID,
		Model:       result.Model,
		Usage:       result.Usage,
		RequestedAt: time.Now().UTC(),
	}); errRecord != nil {
		// A request whose cost cannot be recorded is a failure even though
		// the provider answered.
		o.failRequest(ctx, request, errRecord.Error())
		return nil, errRecord
	}

	request.ProviderID = result.ProviderID
	request.Model = result.Model
	request.Content = result.Content
	request.State = models.RequestStateCompleted
	if errSave := o.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", request.ID).
		Updates(map[string]interface{}{
			"state":       models.RequestStateCompleted,
			"provider_id": result.ProviderID,
			"model":       result.Model,
			"content":     result.Content,
		}).Error; errSave != nil {
		log.WithError(errSave).Errorf("persist completion for request %d failed", request.ID)
	}

	if _, _, errTrace := o.tracer.Append(ctx, request.ID, trace.Step{
		Kind:       StepCompletion,
		Decision:   fmt.Sprintf("served by %s/%s", result.ProviderID, result.Model),
		Confidence: 1,
	}); errTrace != nil {
		log.WithError(errTrace).Warnf("record completion step for request %d failed", request.ID)
	}
	return result, nil
}

// dispatchTraced runs the dispatch loop with attempt events recorded as
// retry and failover steps on the request's decision trace.
func (o *Orchestrator) dispatchTraced(ctx context.Context, request *models.Request, candidates []*provider.Descriptor) (*dispatch.Result, error) {
	// A per-request copy carries the observer without racing concurrent
	// dispatches on the shared engine.
	d := *o.dispatcher
	d.OnAttempt = func(event dispatch.AttemptEvent) {
		if event.Err == nil {
			return
		}
		kind := StepRetry
		decision := fmt.Sprintf("retry %s/%s after attempt %d", event.ProviderID, event.Model, event.Attempt)
		if !event.WillRetry {
			kind = StepFailover
			decision = fmt.Sprintf("abandon %s/%s after attempt %d", event.ProviderID, event.Model, event.Attempt)
		}
		if _, _, errTrace := o.tracer.Append(ctx, request.ID, trace.Step{
			Kind:       kind,
			Decision:   decision,
			Reasoning:  event.Err.Error(),
			Confidence: 1,
		}); errTrace != nil {
			log.WithError(errTrace).Warnf("record %s step for request %d failed", kind, request.ID)
		}
	}
	return d.Dispatch(ctx, candidates, request.Prompt, request.TaskHint)
}

// ExecuteTurn runs a single-provider call for a roundtable turn with the
// same budget and ledger rules as a dispatch.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, orgID uint64, desc *provider.Descriptor, prompt, taskHint string) (*dispatch.Result, error) {
	estimate := o.estimateMicros(prompt, 0)
	reservation, errBudget := o.governor.CheckAllowance(ctx, orgID, estimate)
	if errBudget != nil {
		return nil, errBudget
	}
	defer reservation.Release()

	result, errDispatch := o.dispatcher.Dispatch(ctx, []*provider.Descriptor{desc}, prompt, taskHint)
	if errDispatch != nil {
		return nil, errDispatch
	}

	if _, errRecord := o.ledger.RecordUsage(ctx, ledger.Params{
		OrgID:       orgID,
		Provider:    result.ProviderID,
		Model:       result.Model,
		Usage:       result.Usage,
		RequestedAt: time.Now().UTC(),
	}); errRecord != nil {
		return nil, errRecord
	}
	return result, nil
}

// GetRequest loads a request by caller-facing id, scoped to an org.
func (o *Orchestrator) GetRequest(ctx context.Context, orgID uint64, publicID string) (*models.Request, error) {
	var request models.Request
	if errLoad := o.db.WithContext(ctx).
		Where("org_id = ? AND public_id = ?", orgID, publicID).
		Take(&request).Error; errLoad != nil {
		if errors.Is(errLoad, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, errLoad
	}
	return &request, nil
}

func (o *Orchestrator) setState(ctx context.Context, request *models.Request, state models.RequestState) {
	request.State = state
	if errSave := o.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", request.ID).
		Update("state", state).Error; errSave != nil {
		log.WithError(errSave).Errorf("persist state %s for request %d failed", state, request.ID)
	}
}

func (o *Orchestrator) failRequest(ctx context.Context, request *models.Request, reason string) {
	request.State = models.RequestStateFailed
	request.FailureReason = reason
	if errSave := o.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ?", request.ID).
		Updates(map[string]interface{}{
			"state":          models.RequestStateFailed,
			"failure_reason": reason,
		}).Error; errSave != nil {
		log.WithError(errSave).Errorf("persist failure for request %d failed", request.ID)
	}
	if _, _, errTrace := o.tracer.Append(ctx, request.ID, trace.Step{
		Kind:       StepFailure,
		Decision:   "request failed",
		Reasoning:  reason,
		Confidence: 1,
	}); errTrace != nil {
		log.WithError(errTrace).Warnf("record failure step for request %d failed", request.ID)
	}
}
