package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aethergate/aethergate/internal/audit"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/tasks"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTraceNotFound reports an approval decision against an unknown step.
var ErrTraceNotFound = errors.New("trace: decision step not found")

// Resumer re-drives a suspended request after its pending gate is
// approved. The orchestration engine satisfies this.
type Resumer interface {
	Resume(ctx context.Context, requestID uint64) error
}

// Gate resolves pending approval steps. Each pending step is resolved
// exactly once; a decision against an already resolved step is a no-op
// returning the stored outcome.
type Gate struct {
	db      *gorm.DB
	runner  *tasks.Runner
	auditor *audit.Recorder
	resumer Resumer
}

// NewGate constructs an approval gate. The resumer is wired later via
// SetResumer because the engine depends on the trace service.
func NewGate(db *gorm.DB, runner *tasks.Runner, auditor *audit.Recorder) *Gate {
	return &Gate{db: db, runner: runner, auditor: auditor}
}

// SetResumer registers the component that resumes approved requests.
func (g *Gate) SetResumer(r Resumer) {
	if g != nil {
		g.resumer = r
	}
}

// Approve marks a pending step approved and schedules the suspended
// request to resume in the background. Approving an already resolved
// step changes nothing and does not resume the request again.
func (g *Gate) Approve(ctx context.Context, traceID uint64, operator string) (*models.DecisionTrace, error) {
	row, resolved, err := g.resolve(ctx, traceID, models.ApprovalApproved, "")
	if err != nil {
		return nil, err
	}
	if !resolved {
		return row, nil
	}

	g.recordDecision(ctx, row, operator, "approved", "")

	requestID := row.RequestID
	if g.resumer != nil && g.runner != nil {
		if errSubmit := g.runner.Submit(fmt.Sprintf("resume-request-%d", requestID), func(taskCtx context.Context) error {
			if errResume := g.resumer.Resume(taskCtx, requestID); errResume != nil {
				log.WithError(errResume).Warnf("resume request %d after approval failed", requestID)
			}
			return nil
		}); errSubmit != nil {
			log.WithError(errSubmit).Warnf("schedule resume for request %d failed", requestID)
		}
	}
	return row, nil
}

// Reject marks a pending step rejected and fails the owning request
// with the given reason. Rejecting an already resolved step changes
// nothing.
func (g *Gate) Reject(ctx context.Context, traceID uint64, operator, reason string) (*models.DecisionTrace, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by operator"
	}
	row, resolved, err := g.resolve(ctx, traceID, models.ApprovalRejected, reason)
	if err != nil {
		return nil, err
	}
	if resolved {
		g.recordDecision(ctx, row, operator, "rejected", reason)
	}
	return row, nil
}

// resolve performs the exactly-once transition under a row lock. The
// bool reports whether this call performed the transition.
func (g *Gate) resolve(ctx context.Context, traceID uint64, status models.ApprovalStatus, reason string) (*models.DecisionTrace, bool, error) {
	if g == nil || g.db == nil {
		return nil, false, errors.New("trace: gate not initialized")
	}

	var row models.DecisionTrace
	transitioned := false
	if errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&row, traceID).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrTraceNotFound
			}
			return errLock
		}
		if row.ApprovalStatus.Resolved() || row.ApprovalStatus == models.ApprovalNotRequired {
			return nil
		}

		now := time.Now().UTC()
		row.ApprovalStatus = status
		row.ResolvedAt = &now
		if status == models.ApprovalRejected {
			row.RejectionReason = reason
		}
		if errSave := tx.Model(&models.DecisionTrace{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"approval_status":  row.ApprovalStatus,
				"resolved_at":      row.ResolvedAt,
				"rejection_reason": row.RejectionReason,
			}).Error; errSave != nil {
			return errSave
		}

		if status == models.ApprovalRejected {
			if errFail := tx.Model(&models.Request{}).
				Where("id = ? AND state = ?", row.RequestID, models.RequestStateAwaitingApproval).
				Updates(map[string]interface{}{
					"state":            models.RequestStateFailed,
					"rejection_reason": reason,
				}).Error; errFail != nil {
				return errFail
			}
		}
		transitioned = true
		return nil
	}); errTx != nil {
		return nil, false, errTx
	}
	return &row, transitioned, nil
}

// ListPending returns the pending approval steps for an organization's
// requests, oldest first.
func (g *Gate) ListPending(ctx context.Context, orgID uint64) ([]models.DecisionTrace, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("trace: gate not initialized")
	}
	var rows []models.DecisionTrace
	requestIDs := g.db.Model(&models.Request{}).Select("id").Where("org_id = ?", orgID)
	if errFind := g.db.WithContext(ctx).
		Where("approval_status = ?", models.ApprovalPending).
		Where("request_id IN (?)", requestIDs).
		Order("created_at ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

func (g *Gate) recordDecision(ctx context.Context, row *models.DecisionTrace, operator, outcome, reason string) {
	if g.auditor == nil || row == nil {
		return
	}
	var request models.Request
	if errLoad := g.db.WithContext(ctx).Take(&request, row.RequestID).Error; errLoad != nil {
		log.WithError(errLoad).Warnf("load request %d for approval audit failed", row.RequestID)
		return
	}
	g.auditor.Record(request.OrgID, models.AuditKindApprovalDecision, map[string]interface{}{
		"trace_id":   row.ID,
		"request_id": row.RequestID,
		"step":       row.StepNumber,
		"kind":       row.Kind,
		"outcome":    outcome,
		"operator":   operator,
		"reason":     reason,
	})
}
