// Package service drives the ingestion pipeline: discover source files,
// parse them, load events, and keep the ledger current, on a fixed poll
// interval.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/cursor"
	"alarm-monitor/internal/ledger"
	"alarm-monitor/internal/loader"
	"alarm-monitor/internal/parser"
	"alarm-monitor/internal/recovery"
	"alarm-monitor/internal/store"
)

// Monitor owns the poll loop. Files within a cycle are processed strictly
// oldest-first; that order is load-bearing for cursor correctness.
type Monitor struct {
	cfg      *config.Config
	store    *store.Client
	cursor   *cursor.Cursor
	parser   *parser.Parser
	loader   *loader.Loader
	ledger   *ledger.Ledger
	recovery *recovery.Coordinator
	logger   zerolog.Logger

	lastMaintenance time.Time
}

// NewMonitor wires the pipeline components over a shared store.
func NewMonitor(cfg *config.Config, st *store.Client, logger zerolog.Logger) *Monitor {
	lg := ledger.New(st, logger.With().Str("component", "ledger").Logger())
	return &Monitor{
		cfg:             cfg,
		store:           st,
		cursor:          cursor.New(cfg.Monitoring.Directory, cfg.Monitoring.FilePattern, logger.With().Str("component", "cursor").Logger()),
		parser:          parser.New(logger.With().Str("component", "parser").Logger()),
		loader:          loader.New(st, cfg.Loader, logger.With().Str("component", "loader").Logger()),
		ledger:          lg,
		recovery:        recovery.New(st, lg, cfg.Maintenance, logger.With().Str("component", "recovery").Logger()),
		logger:          logger,
		lastMaintenance: time.Now(),
	}
}

// Run performs startup recovery and then polls until ctx is cancelled.
// Connectivity loss never exits the loop; only cancellation or a failed
// startup recovery does.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.recovery.RunStartupRecovery(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	m.logger.Info().
		Str("dir", m.cfg.Monitoring.Directory).
		Str("pattern", m.cfg.Monitoring.FilePattern).
		Dur("poll_interval", m.cfg.PollInterval()).
		Msg("Monitoring started")

	ticker := time.NewTicker(m.cfg.PollInterval())
	defer ticker.Stop()

	for {
		m.RunOnce(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Monitoring stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunSingleCycle performs startup recovery and exactly one poll cycle, for
// drain-and-exit runs.
func (m *Monitor) RunSingleCycle(ctx context.Context) error {
	if err := m.recovery.RunStartupRecovery(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	m.RunOnce(ctx)
	return nil
}

// RunOnce executes a single poll cycle: liveness check, file discovery and
// processing, then maintenance when its interval has elapsed.
func (m *Monitor) RunOnce(ctx context.Context) {
	ctx, span := startSpan(ctx, "poll_cycle")
	defer endSpan(span, nil)

	if err := m.store.Ping(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Database connection lost")
		if rerr := m.store.Reconnect(ctx); rerr != nil {
			m.logger.Error().Err(rerr).Msg("Reconnect failed, skipping this cycle")
			return
		}
	}

	for _, cand := range m.cursor.ListCandidates() {
		if err := m.processFile(ctx, cand); err != nil {
			// Stop here so the cursor stays behind the failed file and the
			// next cycle rediscovers it along with everything newer.
			m.logger.Error().
				Err(err).
				Str("file", cand.Path).
				Msg("File processing failed, deferring the rest of this cycle")
			break
		}
	}

	m.maybeMaintain(ctx)
}

// processFile runs one file through parse → load → ledger. The cursor
// advances only after a successful load.
func (m *Monitor) processFile(ctx context.Context, cand cursor.Candidate) (err error) {
	ctx, span := startSpan(ctx, "process_file", attribute.String("file.path", cand.Path))
	defer func() { endSpan(span, err) }()

	if lerr := m.ledger.MarkStarted(cand.Path); lerr != nil {
		m.logger.Warn().Err(lerr).Str("file", cand.Path).Msg("Ledger write failed")
	}

	events, skipped, err := m.parser.ParseFile(cand.Path)
	if err != nil {
		err = fmt.Errorf("read source file: %w", err)
		if lerr := m.ledger.MarkFailed(cand.Path, err.Error()); lerr != nil {
			m.logger.Warn().Err(lerr).Str("file", cand.Path).Msg("Ledger write failed")
		}
		return err
	}

	inserted, err := m.loader.Load(ctx, events)
	if err != nil {
		err = fmt.Errorf("load events: %w", err)
		if lerr := m.ledger.MarkFailed(cand.Path, err.Error()); lerr != nil {
			m.logger.Warn().Err(lerr).Str("file", cand.Path).Msg("Ledger write failed")
		}
		return err
	}

	if lerr := m.ledger.MarkCompleted(cand.Path, len(events)); lerr != nil {
		m.logger.Warn().Err(lerr).Str("file", cand.Path).Msg("Ledger write failed")
	}
	m.cursor.Advance(cand)

	m.logger.Info().
		Str("file", cand.Path).
		Int("events", len(events)).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("File processed")
	return nil
}

// maybeMaintain triggers periodic maintenance once its interval has elapsed.
func (m *Monitor) maybeMaintain(ctx context.Context) {
	interval, err := m.cfg.Maintenance.Interval.Duration()
	if err != nil || interval <= 0 {
		return
	}
	if time.Since(m.lastMaintenance) < interval {
		return
	}
	m.recovery.RunPeriodicMaintenance(ctx)
	m.lastMaintenance = time.Now()
}
