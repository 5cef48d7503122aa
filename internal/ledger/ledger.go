// Package ledger persists the per-file processing state machine used for
// crash recovery. The ledger is best-effort bookkeeping: the event store's
// natural key, not the ledger, is the source of truth for deduplication.
package ledger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/clause"

	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/store"
)

// RecoveryAnnotation marks rows failed by crash recovery rather than by a
// processing error.
const RecoveryAnnotation = "Recovered from program interruption"

// Ledger records per-file processing outcomes, keyed by file name.
type Ledger struct {
	store  *store.Client
	logger zerolog.Logger
}

// New creates a ledger over the given store.
func New(st *store.Client, logger zerolog.Logger) *Ledger {
	return &Ledger{store: st, logger: logger}
}

// MarkStarted records that processing of the file has begun. Re-entry after
// an interrupted attempt is allowed: the start time resets and any prior
// error and counts are cleared.
func (l *Ledger) MarkStarted(path string) error {
	now := time.Now()
	rec := domain.FileProcessingRecord{
		FileName:  filepath.Base(path),
		FilePath:  path,
		Status:    domain.StatusStarted,
		StartedAt: now,
	}
	return l.upsert(rec, map[string]interface{}{
		"file_path":     path,
		"status":        domain.StatusStarted,
		"started_at":    now,
		"completed_at":  nil,
		"error_message": "",
		"record_count":  0,
	})
}

// MarkCompleted records a successful run with the count of valid rows.
func (l *Ledger) MarkCompleted(path string, recordCount int) error {
	now := time.Now()
	rec := domain.FileProcessingRecord{
		FileName:    filepath.Base(path),
		FilePath:    path,
		Status:      domain.StatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		RecordCount: recordCount,
	}
	return l.upsert(rec, map[string]interface{}{
		"status":        domain.StatusCompleted,
		"completed_at":  &now,
		"record_count":  recordCount,
		"error_message": "",
	})
}

// MarkFailed records a failed run with the failure reason.
func (l *Ledger) MarkFailed(path string, reason string) error {
	rec := domain.FileProcessingRecord{
		FileName:     filepath.Base(path),
		FilePath:     path,
		Status:       domain.StatusFailed,
		StartedAt:    time.Now(),
		ErrorMessage: reason,
	}
	return l.upsert(rec, map[string]interface{}{
		"status":        domain.StatusFailed,
		"error_message": reason,
	})
}

// upsert creates the row or, when the file name already exists, applies the
// given column updates. Each operation is idempotent.
func (l *Ledger) upsert(rec domain.FileProcessingRecord, updates map[string]interface{}) error {
	err := l.store.Ledger().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_name"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("ledger upsert for %s: %w", rec.FileName, err)
	}
	return nil
}

// RecoverInterrupted forces every row stuck in Started to Failed with the
// recovery annotation, making those files eligible for rediscovery. The
// files are not re-parsed here.
func (l *Ledger) RecoverInterrupted() (int64, error) {
	res := l.store.Ledger().
		Where("status = ?", domain.StatusStarted).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_message": RecoveryAnnotation,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("recover interrupted ledger rows: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Warn().
			Int64("files", res.RowsAffected).
			Msg("Recovered interrupted file records")
	}
	return res.RowsAffected, nil
}

// EnforceRetention keeps only the max most-recently-started rows, ranked by
// start time rather than elapsed age.
func (l *Ledger) EnforceRetention(max int) (int64, error) {
	var keep []uint
	err := l.store.Ledger().
		Order("started_at DESC").
		Limit(max).
		Pluck("id", &keep).Error
	if err != nil {
		return 0, fmt.Errorf("select retained ledger rows: %w", err)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	res := l.store.Ledger().
		Where("id NOT IN ?", keep).
		Delete(&domain.FileProcessingRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("trim ledger: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.logger.Debug().
			Int64("deleted", res.RowsAffected).
			Int("kept", len(keep)).
			Msg("Trimmed ledger to retention cap")
	}
	return res.RowsAffected, nil
}
