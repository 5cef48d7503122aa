package loader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/store"
)

// StagingPrefix names every transient staging table. Recovery uses it to
// find orphans left behind by crashed processes.
const StagingPrefix = "temp_alarms_"

// stagingRow mirrors AlarmEvent without the primary key or indexes; a
// staging table lives for seconds and is only ever scanned once.
type stagingRow struct {
	Time       time.Time `gorm:"precision:3"`
	Instance   int
	Name       string `gorm:"size:255"`
	Code       int
	Severity   int
	Info1      string `gorm:"size:255"`
	Info2      string `gorm:"size:255"`
	Change     string `gorm:"type:text"`
	Message    string `gorm:"type:text"`
	SourceFile string `gorm:"size:255"`
	CreatedAt  time.Time
}

// stagingStrategy is the optimized path: bulk-load the batch into a
// process-scoped staging table and let the storage engine compute the set
// difference against the permanent table in one atomic statement. Existing
// rows never travel back into application memory.
type stagingStrategy struct {
	store     *store.Client
	batchSize int
	logger    zerolog.Logger
}

func (s *stagingStrategy) Name() string { return "staging" }

func (s *stagingStrategy) Load(ctx context.Context, events []domain.AlarmEvent) (int, error) {
	staging := newStagingName(time.Now())
	db := s.store.DB().WithContext(ctx)

	if err := db.Table(staging).AutoMigrate(&stagingRow{}); err != nil {
		return 0, fmt.Errorf("create staging table %s: %w", staging, err)
	}
	defer func() {
		// The table must go even when the insert failed; recovery only
		// mops up after crashes.
		if err := s.store.DropTable(staging); err != nil {
			s.logger.Warn().Err(err).Str("table", staging).Msg("Failed to drop staging table")
		}
	}()

	rows := make([]stagingRow, len(events))
	for i, e := range events {
		rows[i] = stagingRow{
			Time:       e.Time,
			Instance:   e.Instance,
			Name:       e.Name,
			Code:       e.Code,
			Severity:   e.Severity,
			Info1:      e.Info1,
			Info2:      e.Info2,
			Change:     e.Change,
			Message:    e.Message,
			SourceFile: e.SourceFile,
		}
	}
	if err := db.Table(staging).CreateInBatches(rows, s.batchSize).Error; err != nil {
		return 0, fmt.Errorf("populate staging table %s: %w", staging, err)
	}

	// `change` is a reserved word on MySQL; backticks also parse on SQLite.
	insert := fmt.Sprintf(`
		INSERT INTO %[1]s (time, instance, name, code, severity, info1, info2, `+"`change`"+`, message, source_file, created_at)
		SELECT s.time, s.instance, s.name, s.code, s.severity, s.info1, s.info2, s.`+"`change`"+`, s.message, s.source_file, s.created_at
		FROM %[2]s s
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s e
			WHERE e.time = s.time AND e.instance = s.instance AND e.code = s.code AND e.name = s.name
		)`, s.store.EventsTable(), staging)

	var inserted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(insert)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("set-difference insert from %s: %w", staging, err)
	}

	s.logger.Debug().
		Str("table", staging).
		Int("events", len(events)).
		Int64("inserted", inserted).
		Msg("Staging load committed")

	return int(inserted), nil
}

// newStagingName builds a table name unique across concurrent processes:
// creation time, then pid, then a random suffix.
func newStagingName(now time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s%d_%d_%s", StagingPrefix, now.Unix(), os.Getpid(), suffix)
}

// StagingCreatedAt extracts the creation time embedded in a staging table
// name. Recovery compares it against the orphan age threshold.
func StagingCreatedAt(table string) (time.Time, error) {
	if !strings.HasPrefix(table, StagingPrefix) {
		return time.Time{}, fmt.Errorf("not a staging table: %s", table)
	}
	rest := strings.TrimPrefix(table, StagingPrefix)
	parts := strings.Split(rest, "_")
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("malformed staging table name: %s", table)
	}
	unix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed creation time in staging table name %s: %w", table, err)
	}
	return time.Unix(unix, 0), nil
}
