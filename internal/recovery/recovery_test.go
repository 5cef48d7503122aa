package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/ledger"
	"alarm-monitor/internal/loader"
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
	return st
}

func newCoordinator(t *testing.T, st *store.Client, cfg config.MaintenanceConfig) (*Coordinator, *ledger.Ledger) {
	t.Helper()
	lg := ledger.New(st, zerolog.Nop())
	return New(st, lg, cfg, zerolog.Nop()), lg
}

func defaultMaintenance() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		Interval:         config.Interval{Value: 6, Unit: "hours"},
		LedgerMaxRecords: 100,
		CleanupEnabled:   true,
		Retention:        config.Interval{Value: 12, Unit: "months"},
	}
}

func TestRunStartupRecovery_CreatesSchema(t *testing.T) {
	st := newTestStore(t)
	c, _ := newCoordinator(t, st, defaultMaintenance())

	if err := c.RunStartupRecovery(context.Background()); err != nil {
		t.Fatalf("RunStartupRecovery() error = %v", err)
	}

	// Both tables must now accept writes.
	if err := st.Events().Create(&domain.AlarmEvent{
		Time: time.Now(), Instance: 1, Name: "A", Code: 1, Severity: 1,
	}).Error; err != nil {
		t.Errorf("events table not usable after recovery: %v", err)
	}
	if err := st.Ledger().Create(&domain.FileProcessingRecord{
		FileName: "x.csv", Status: domain.StatusCompleted, StartedAt: time.Now(),
	}).Error; err != nil {
		t.Errorf("ledger table not usable after recovery: %v", err)
	}
}

func TestRunStartupRecovery_ForcesInterruptedToFailed(t *testing.T) {
	st := newTestStore(t)
	c, lg := newCoordinator(t, st, defaultMaintenance())
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := lg.MarkStarted("/data/crashed.csv"); err != nil {
		t.Fatalf("MarkStarted() error = %v", err)
	}

	if err := c.RunStartupRecovery(context.Background()); err != nil {
		t.Fatalf("RunStartupRecovery() error = %v", err)
	}

	var rec domain.FileProcessingRecord
	if err := st.Ledger().Where("file_name = ?", "crashed.csv").First(&rec).Error; err != nil {
		t.Fatalf("failed to read ledger row: %v", err)
	}
	if rec.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", rec.Status)
	}
	if rec.ErrorMessage != ledger.RecoveryAnnotation {
		t.Errorf("expected recovery annotation, got %q", rec.ErrorMessage)
	}
}

func TestCleanupStagingTables(t *testing.T) {
	st := newTestStore(t)
	c, _ := newCoordinator(t, st, defaultMaintenance())

	old := fmt.Sprintf("%s%d_%d_abcd1234", loader.StagingPrefix, time.Now().Add(-2*time.Hour).Unix(), os.Getpid())
	young := fmt.Sprintf("%s%d_%d_ef567890", loader.StagingPrefix, time.Now().Unix(), os.Getpid())
	for _, name := range []string{old, young} {
		if err := st.DB().Exec("CREATE TABLE " + name + " (id INTEGER)").Error; err != nil {
			t.Fatalf("failed to create staging fixture %s: %v", name, err)
		}
	}

	if err := c.cleanupStagingTables(context.Background()); err != nil {
		t.Fatalf("cleanupStagingTables() error = %v", err)
	}

	tables, err := st.ListTables()
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	has := func(name string) bool {
		for _, tbl := range tables {
			if tbl == name {
				return true
			}
		}
		return false
	}
	if has(old) {
		t.Errorf("expected stale staging table %s dropped", old)
	}
	if !has(young) {
		t.Errorf("expected young staging table %s kept", young)
	}
}

func TestExpireEvents_BoundaryExact(t *testing.T) {
	st := newTestStore(t)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := defaultMaintenance()
	cfg.Retention = config.Interval{Value: 2, Unit: "hours"}
	c, _ := newCoordinator(t, st, cfg)

	now := time.Date(2025, 1, 6, 16, 0, 0, 0, time.Local)
	c.now = func() time.Time { return now }
	cutoff := now.Add(-2 * time.Hour)

	seed := []domain.AlarmEvent{
		{Time: cutoff.Add(-time.Microsecond), Instance: 1, Name: "old", Code: 1, Severity: 1},
		{Time: cutoff, Instance: 1, Name: "boundary", Code: 2, Severity: 1},
		{Time: cutoff.Add(time.Hour), Instance: 1, Name: "fresh", Code: 3, Severity: 1},
	}
	if err := st.Events().Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	if err := c.expireEvents(context.Background()); err != nil {
		t.Fatalf("expireEvents() error = %v", err)
	}

	var remaining []domain.AlarmEvent
	if err := st.Events().Order("time ASC").Find(&remaining).Error; err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining events, got %d", len(remaining))
	}
	if remaining[0].Name != "boundary" {
		t.Errorf("event exactly at the cutoff must be retained, got %s first", remaining[0].Name)
	}
	if remaining[1].Name != "fresh" {
		t.Errorf("expected fresh event retained, got %s", remaining[1].Name)
	}
}

func TestExpireEvents_UnknownUnitAbortsOnlyExpiry(t *testing.T) {
	st := newTestStore(t)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := defaultMaintenance()
	cfg.Retention = config.Interval{Value: 2, Unit: "fortnights"}
	c, _ := newCoordinator(t, st, cfg)

	if err := c.expireEvents(context.Background()); err == nil {
		t.Error("expected error for unknown retention unit")
	}

	// The rest of maintenance still runs.
	c.RunPeriodicMaintenance(context.Background())
}

func TestExpireEvents_DisabledIsNoop(t *testing.T) {
	st := newTestStore(t)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := defaultMaintenance()
	cfg.CleanupEnabled = false
	cfg.Retention = config.Interval{Value: 1, Unit: "minutes"}
	c, _ := newCoordinator(t, st, cfg)

	old := domain.AlarmEvent{Time: time.Now().Add(-24 * time.Hour), Instance: 1, Name: "old", Code: 1, Severity: 1}
	if err := st.Events().Create(&old).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}

	if err := c.expireEvents(context.Background()); err != nil {
		t.Fatalf("expireEvents() error = %v", err)
	}

	var n int64
	if err := st.Events().Count(&n).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if n != 1 {
		t.Errorf("expected event kept with cleanup disabled, got %d rows", n)
	}
}

func TestRunPeriodicMaintenance_TrimsLedger(t *testing.T) {
	st := newTestStore(t)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := defaultMaintenance()
	cfg.LedgerMaxRecords = 2
	c, lg := newCoordinator(t, st, cfg)

	for i := 0; i < 4; i++ {
		if err := lg.MarkCompleted(fmt.Sprintf("/data/f%d.csv", i), i); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.RunPeriodicMaintenance(context.Background())

	var n int64
	if err := st.Ledger().Count(&n).Error; err != nil {
		t.Fatalf("failed to count ledger rows: %v", err)
	}
	if n != 2 {
		t.Errorf("expected ledger trimmed to 2 rows, got %d", n)
	}
}
