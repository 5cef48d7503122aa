package cli

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

func seedViewEvents(t *testing.T, st *store.Client) {
	t.Helper()
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.Local)
	seed := []domain.AlarmEvent{
		{Time: base, Instance: 1, Name: "ZeroCode", Code: 0, Severity: 1},
		{Time: base.Add(time.Minute), Instance: 1, Name: "TempHigh", Code: 1042, Severity: 2},
		{Time: base.Add(2 * time.Minute), Instance: 1, Name: "PumpStop", Code: 7, Severity: 0},
	}
	if err := st.Events().Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}
}

func queryEvents(t *testing.T, st *store.Client, opts *viewOptions) []domain.AlarmEvent {
	t.Helper()
	q := st.Events().Order("time DESC").Limit(opts.limit)
	q, err := applyFilters(q, opts)
	if err != nil {
		t.Fatalf("applyFilters() error = %v", err)
	}
	var events []domain.AlarmEvent
	if err := q.Find(&events).Error; err != nil {
		t.Fatalf("failed to query events: %v", err)
	}
	return events
}

func TestApplyFilters(t *testing.T) {
	st := newTestStore(t)
	seedViewEvents(t, st)

	tests := []struct {
		name      string
		opts      viewOptions
		wantNames []string
	}{
		{
			name:      "no filters returns everything newest first",
			opts:      viewOptions{limit: 10, severity: -1},
			wantNames: []string{"PumpStop", "TempHigh", "ZeroCode"},
		},
		{
			name:      "code zero is a real filter when the flag is set",
			opts:      viewOptions{limit: 10, severity: -1, code: 0, codeSet: true},
			wantNames: []string{"ZeroCode"},
		},
		{
			name:      "nonzero code",
			opts:      viewOptions{limit: 10, severity: -1, code: 1042, codeSet: true},
			wantNames: []string{"TempHigh"},
		},
		{
			name:      "severity zero",
			opts:      viewOptions{limit: 10, severity: 0},
			wantNames: []string{"PumpStop"},
		},
		{
			name:      "time range",
			opts:      viewOptions{limit: 10, severity: -1, from: "2025-01-06 10:00:30", to: "2025-01-06 10:01:30"},
			wantNames: []string{"TempHigh"},
		},
		{
			name:      "limit applies after ordering",
			opts:      viewOptions{limit: 1, severity: -1},
			wantNames: []string{"PumpStop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryEvents(t, st, &tt.opts)
			if len(got) != len(tt.wantNames) {
				t.Fatalf("expected %d events, got %d", len(tt.wantNames), len(got))
			}
			for i, want := range tt.wantNames {
				if got[i].Name != want {
					t.Errorf("position %d: expected %s, got %s", i, want, got[i].Name)
				}
			}
		})
	}
}

func TestApplyFilters_InvalidTime(t *testing.T) {
	st := newTestStore(t)
	opts := &viewOptions{limit: 10, severity: -1, from: "last tuesday"}
	if _, err := applyFilters(st.Events(), opts); err == nil {
		t.Error("expected error for unparseable --from value")
	}
}
