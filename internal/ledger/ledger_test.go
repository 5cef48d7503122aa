package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/store"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:               "sqlite",
		Path:                 filepath.Join(t.TempDir(), "alarms.db"),
		EventsTable:          "alarms",
		LedgerTable:          "processing_state",
		MaxReconnectAttempts: 1,
	}
	st, err := store.Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	return st
}

func getRecord(t *testing.T, st *store.Client, fileName string) domain.FileProcessingRecord {
	t.Helper()
	var rec domain.FileProcessingRecord
	if err := st.Ledger().Where("file_name = ?", fileName).First(&rec).Error; err != nil {
		t.Fatalf("failed to read ledger row %s: %v", fileName, err)
	}
	return rec
}

func TestLifecycle_StartedToCompleted(t *testing.T) {
	st := newTestStore(t)
	l := New(st, zerolog.Nop())
	path := "/data/Alarms_2025_01_06_10_00_00.csv"

	if err := l.MarkStarted(path); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	rec := getRecord(t, st, "Alarms_2025_01_06_10_00_00.csv")
	if rec.Status != domain.StatusStarted {
		t.Errorf("expected status started, got %s", rec.Status)
	}
	if rec.FilePath != path {
		t.Errorf("expected path %s, got %s", path, rec.FilePath)
	}
	if rec.CompletedAt != nil {
		t.Error("expected nil CompletedAt while started")
	}

	if err := l.MarkCompleted(path, 42); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	rec = getRecord(t, st, "Alarms_2025_01_06_10_00_00.csv")
	if rec.Status != domain.StatusCompleted {
		t.Errorf("expected status completed, got %s", rec.Status)
	}
	if rec.RecordCount != 42 {
		t.Errorf("expected record count 42, got %d", rec.RecordCount)
	}
	if rec.CompletedAt == nil {
		t.Error("expected CompletedAt set on completion")
	}
}

func TestLifecycle_StartedToFailed(t *testing.T) {
	st := newTestStore(t)
	l := New(st, zerolog.Nop())
	path := "/data/bad.csv"

	if err := l.MarkStarted(path); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if err := l.MarkFailed(path, "load events: disk full"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	rec := getRecord(t, st, "bad.csv")
	if rec.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", rec.Status)
	}
	if rec.ErrorMessage != "load events: disk full" {
		t.Errorf("unexpected error message %q", rec.ErrorMessage)
	}
}

func TestMarkStarted_ReentryResetsState(t *testing.T) {
	st := newTestStore(t)
	l := New(st, zerolog.Nop())
	path := "/data/retry.csv"

	if err := l.MarkStarted(path); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if err := l.MarkFailed(path, "transient outage"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	first := getRecord(t, st, "retry.csv")

	time.Sleep(10 * time.Millisecond)
	if err := l.MarkStarted(path); err != nil {
		t.Fatalf("re-entrant MarkStarted() error = %v", err)
	}

	rec := getRecord(t, st, "retry.csv")
	if rec.Status != domain.StatusStarted {
		t.Errorf("expected status started after re-entry, got %s", rec.Status)
	}
	if rec.ErrorMessage != "" {
		t.Errorf("expected cleared error message, got %q", rec.ErrorMessage)
	}
	if rec.RecordCount != 0 {
		t.Errorf("expected cleared record count, got %d", rec.RecordCount)
	}
	if !rec.StartedAt.After(first.StartedAt) {
		t.Errorf("expected StartedAt reset: first %v, second %v", first.StartedAt, rec.StartedAt)
	}
	// Still one row per file name.
	var n int64
	if err := st.Ledger().Count(&n).Error; err != nil {
		t.Fatalf("failed to count ledger rows: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 ledger row, got %d", n)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	st := newTestStore(t)
	l := New(st, zerolog.Nop())

	if err := l.MarkStarted("/data/crashed.csv"); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if err := l.MarkStarted("/data/done.csv"); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}
	if err := l.MarkCompleted("/data/done.csv", 5); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	recovered, err := l.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted() error = %v", err)
	}
	if recovered != 1 {
		t.Errorf("expected 1 recovered row, got %d", recovered)
	}

	rec := getRecord(t, st, "crashed.csv")
	if rec.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", rec.Status)
	}
	if rec.ErrorMessage != RecoveryAnnotation {
		t.Errorf("expected recovery annotation, got %q", rec.ErrorMessage)
	}

	done := getRecord(t, st, "done.csv")
	if done.Status != domain.StatusCompleted {
		t.Errorf("completed row must be untouched, got %s", done.Status)
	}
}

func TestEnforceRetention_KeepsLatestByStartTime(t *testing.T) {
	st := newTestStore(t)
	l := New(st, zerolog.Nop())

	// Insert directly to control StartedAt ordering.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := domain.FileProcessingRecord{
			FileName:  filepath.Base(filepath.Join("/data", "f"+string(rune('a'+i))+".csv")),
			Status:    domain.StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.Ledger().Create(&rec).Error; err != nil {
			t.Fatalf("failed to seed ledger: %v", err)
		}
	}

	deleted, err := l.EnforceRetention(2)
	if err != nil {
		t.Fatalf("EnforceRetention() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}

	var remaining []domain.FileProcessingRecord
	if err := st.Ledger().Order("started_at ASC").Find(&remaining).Error; err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining rows, got %d", len(remaining))
	}
	if remaining[0].FileName != "fd.csv" || remaining[1].FileName != "fe.csv" {
		t.Errorf("expected the two most recently started rows, got %s and %s",
			remaining[0].FileName, remaining[1].FileName)
	}
}
