// Package loader inserts parsed alarm events into the permanent store with
// at-most-once semantics per natural key.
package loader

import (
	"context"

	"github.com/rs/zerolog"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/retry"
	"alarm-monitor/internal/store"
)

// Strategy is one way to load a deduplicated batch. Both implementations
// share the same contract: after a successful call every input event is
// present in the permanent store exactly once, and the return value counts
// only the rows that were actually new.
type Strategy interface {
	Name() string
	Load(ctx context.Context, events []domain.AlarmEvent) (int, error)
}

// Loader selects between the optimized set-difference strategy and the
// chunked existence-check fallback. The fallback is a runtime safety net,
// not just a configuration choice: any optimized failure downgrades that
// single batch.
type Loader struct {
	optimized Strategy
	fallback  Strategy
	preferOpt bool
	logger    zerolog.Logger
}

// New creates a loader over the given store.
func New(st *store.Client, cfg config.LoaderConfig, logger zerolog.Logger) *Loader {
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger

	return &Loader{
		optimized: &stagingStrategy{store: st, batchSize: cfg.BatchSize, logger: logger},
		fallback:  &chunkedStrategy{store: st, batchSize: cfg.BatchSize, retryCfg: retryCfg, logger: logger},
		preferOpt: cfg.Optimized,
		logger:    logger,
	}
}

// Load inserts events and returns the count of newly inserted rows. Zero for
// an all-duplicate batch is success. Duplicate natural keys inside the batch
// collapse to their first occurrence before any storage work happens.
//
// Transactions are scoped inside each strategy with guaranteed release, so a
// failed prior attempt never leaves an open transaction for this call to
// trip over.
func (l *Loader) Load(ctx context.Context, events []domain.AlarmEvent) (int, error) {
	events = collapse(events)
	if len(events) == 0 {
		return 0, nil
	}

	strat := l.pick()
	inserted, err := strat.Load(ctx, events)
	if err != nil && strat == l.optimized {
		l.logger.Warn().
			Err(err).
			Int("events", len(events)).
			Str("strategy", l.fallback.Name()).
			Msg("Optimized load failed, downgrading batch to fallback strategy")
		return l.fallback.Load(ctx, events)
	}
	return inserted, err
}

// pick is the selection policy: optimized when enabled, fallback otherwise.
func (l *Loader) pick() Strategy {
	if l.preferOpt {
		return l.optimized
	}
	return l.fallback
}

// collapse drops events repeating an earlier natural key. First occurrence
// wins.
func collapse(events []domain.AlarmEvent) []domain.AlarmEvent {
	if len(events) < 2 {
		return events
	}
	seen := make(map[domain.NaturalKey]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		key := e.NaturalKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
