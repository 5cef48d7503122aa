package domain

import "time"

// ProcessingStatus is the ledger state of one source file.
type ProcessingStatus string

const (
	StatusStarted   ProcessingStatus = "started"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// FileProcessingRecord tracks the processing outcome of one source file.
// Keyed by file name; a row stuck in StatusStarted across a restart marks an
// interrupted run and is reconciled by recovery.
type FileProcessingRecord struct {
	ID           uint             `gorm:"primaryKey"`
	FileName     string           `gorm:"size:255;uniqueIndex:idx_file_name"`
	FilePath     string           `gorm:"size:500"`
	Status       ProcessingStatus `gorm:"size:20;index:idx_status"`
	StartedAt    time.Time        `gorm:"index:idx_started"`
	CompletedAt  *time.Time
	ErrorMessage string `gorm:"type:text"`
	RecordCount  int
}
