// Package audit appends best-effort operational audit entries. A failed
// audit write is logged and dropped; it never fails the owning request,
// unlike usage ledger writes, which are fatal.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/tasks"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// writeTimeout bounds one background audit insert.
const writeTimeout = 5 * time.Second

// Recorder appends audit entries through the background task runner.
type Recorder struct {
	db     *gorm.DB
	runner *tasks.Runner
}

// NewRecorder constructs an audit recorder.
func NewRecorder(db *gorm.DB, runner *tasks.Runner) *Recorder {
	return &Recorder{db: db, runner: runner}
}

// Record submits an audit entry write. detail is JSON-marshalled; a nil
// detail writes an empty payload.
func (r *Recorder) Record(orgID uint64, kind string, detail any) {
	if r == nil || r.db == nil {
		return
	}

	var payload datatypes.JSON
	if detail != nil {
		encoded, errMarshal := json.Marshal(detail)
		if errMarshal != nil {
			log.WithError(errMarshal).Warnf("audit: encode detail failed (kind=%s)", kind)
		} else {
			payload = datatypes.JSON(encoded)
		}
	}

	row := models.AuditEntry{
		OrgID:  orgID,
		Kind:   kind,
		Detail: payload,
	}

	write := func(ctx context.Context) error {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return r.db.WithContext(writeCtx).Create(&row).Error
	}

	if r.runner == nil {
		if errWrite := write(context.Background()); errWrite != nil {
			log.WithError(errWrite).Warnf("audit: write failed (kind=%s)", kind)
		}
		return
	}
	if errSubmit := r.runner.Submit("audit:"+kind, write); errSubmit != nil {
		log.WithError(errSubmit).Warnf("audit: submit failed (kind=%s)", kind)
	}
}

// List returns recent audit entries, newest first.
func (r *Recorder) List(ctx context.Context, orgID uint64, limit int) ([]models.AuditEntry, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Model(&models.AuditEntry{}).Order("id DESC").Limit(limit)
	if orgID != 0 {
		q = q.Where("org_id = ?", orgID)
	}
	var rows []models.AuditEntry
	if errFind := q.Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}
