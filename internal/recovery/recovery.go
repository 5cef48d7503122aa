// Package recovery reconciles persisted state after a restart and keeps the
// store tidy on a maintenance cadence.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/ledger"
	"alarm-monitor/internal/loader"
	"alarm-monitor/internal/store"
)

// stagingMaxAge is the orphan threshold for transient staging tables. A
// younger table is assumed to belong to an in-flight load and is left alone;
// normal loads create and drop their table within seconds.
const stagingMaxAge = time.Hour

// Coordinator runs startup recovery and periodic maintenance.
type Coordinator struct {
	store  *store.Client
	ledger *ledger.Ledger
	cfg    config.MaintenanceConfig
	logger zerolog.Logger

	// now is replaceable for boundary tests of retention expiry.
	now func() time.Time
}

// New creates a coordinator.
func New(st *store.Client, lg *ledger.Ledger, cfg config.MaintenanceConfig, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  st,
		ledger: lg,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// RunStartupRecovery executes the recovery steps in order, continuing past
// individual failures. Overall success requires more than half of the steps
// to succeed.
func (c *Coordinator) RunStartupRecovery(ctx context.Context) error {
	steps := []step{
		{"ensure schema", c.ensureSchema},
		{"clean orphaned staging tables", c.cleanupStagingTables},
		{"repair connection", c.repairConnection},
		{"ensure indexes", c.ensureIndexes},
		{"recover interrupted files", c.recoverInterrupted},
		{"enforce ledger retention", c.enforceLedgerRetention},
		{"validate data integrity", c.validateIntegrity},
	}

	succeeded := 0
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			c.logger.Error().
				Err(err).
				Str("step", s.name).
				Msg("Recovery step failed")
			continue
		}
		c.logger.Debug().Str("step", s.name).Msg("Recovery step succeeded")
		succeeded++
	}

	if succeeded*2 <= len(steps) {
		return fmt.Errorf("startup recovery failed: only %d of %d steps succeeded", succeeded, len(steps))
	}
	c.logger.Info().
		Int("succeeded", succeeded).
		Int("total", len(steps)).
		Msg("Startup recovery finished")
	return nil
}

// RunPeriodicMaintenance runs the maintenance subset. Each task is
// independently fault-tolerant: a failure is logged and the next task still
// runs.
func (c *Coordinator) RunPeriodicMaintenance(ctx context.Context) {
	tasks := []step{
		{"enforce ledger retention", c.enforceLedgerRetention},
		{"clean orphaned staging tables", c.cleanupStagingTables},
		{"expire old events", c.expireEvents},
	}

	for _, t := range tasks {
		if err := t.run(ctx); err != nil {
			c.logger.Error().
				Err(err).
				Str("task", t.name).
				Msg("Maintenance task failed")
		}
	}
	c.logger.Debug().Msg("Periodic maintenance finished")
}

func (c *Coordinator) ensureSchema(ctx context.Context) error {
	return c.store.AutoMigrate()
}

func (c *Coordinator) ensureIndexes(ctx context.Context) error {
	return c.store.EnsureIndexes()
}

func (c *Coordinator) repairConnection(ctx context.Context) error {
	if err := c.store.Ping(ctx); err == nil {
		return nil
	}
	return c.store.Reconnect(ctx)
}

func (c *Coordinator) recoverInterrupted(ctx context.Context) error {
	_, err := c.ledger.RecoverInterrupted()
	return err
}

func (c *Coordinator) enforceLedgerRetention(ctx context.Context) error {
	_, err := c.ledger.EnforceRetention(c.cfg.LedgerMaxRecords)
	return err
}

// cleanupStagingTables drops staging tables left behind by crashed
// processes, judged by the creation time embedded in the table name.
func (c *Coordinator) cleanupStagingTables(ctx context.Context) error {
	tables, err := c.store.ListTables()
	if err != nil {
		return err
	}

	cutoff := c.now().Add(-stagingMaxAge)
	cleaned := 0
	for _, table := range tables {
		if !strings.HasPrefix(table, loader.StagingPrefix) {
			continue
		}
		created, err := loader.StagingCreatedAt(table)
		if err != nil {
			// Not one of ours; dropping it could hit an in-flight load
			// from a different producer.
			c.logger.Warn().
				Err(err).
				Str("table", table).
				Msg("Staging-like table with unreadable creation time, leaving alone")
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := c.store.DropTable(table); err != nil {
			c.logger.Warn().Err(err).Str("table", table).Msg("Failed to drop orphaned staging table")
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		c.logger.Info().Int("tables", cleaned).Msg("Dropped orphaned staging tables")
	}
	return nil
}

// expireEvents deletes events older than the configured retention. An event
// exactly at the cutoff is retained.
func (c *Coordinator) expireEvents(ctx context.Context) error {
	if !c.cfg.CleanupEnabled {
		return nil
	}
	retention, err := c.cfg.Retention.Duration()
	if err != nil {
		// Misconfiguration aborts only this task; the unit is validated
		// here, not at startup.
		return fmt.Errorf("retention misconfigured: %w", err)
	}
	if retention == 0 {
		return nil
	}

	// Event times are local wall-clock with no zone marker, so the cutoff
	// is computed in local time too. Events near a DST shift can be
	// mis-aged by up to the shift width.
	cutoff := c.now().Add(-retention)

	res := c.store.Events().WithContext(ctx).
		Where("time < ?", cutoff).
		Delete(&domain.AlarmEvent{})
	if res.Error != nil {
		return fmt.Errorf("expire events before %s: %w", cutoff.Format("2006-01-02 15:04:05"), res.Error)
	}
	if res.RowsAffected > 0 {
		c.logger.Info().
			Int64("deleted", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("Expired events past retention")
	}
	return nil
}

// validateIntegrity is an extension point for consistency checks over
// recently processed files. Currently a no-op.
func (c *Coordinator) validateIntegrity(ctx context.Context) error {
	return nil
}
