package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"alarm-monitor/internal/domain"
	"alarm-monitor/internal/retry"
	"alarm-monitor/internal/store"
)

// chunkedStrategy is the fallback path: for each fixed-size chunk, pull the
// already-stored natural keys into memory, filter the chunk against them,
// and insert the remainder. Commits are per chunk, so a mid-batch failure
// keeps the chunks already committed.
type chunkedStrategy struct {
	store     *store.Client
	batchSize int
	retryCfg  retry.Config
	logger    zerolog.Logger
}

func (s *chunkedStrategy) Name() string { return "chunked" }

func (s *chunkedStrategy) Load(ctx context.Context, events []domain.AlarmEvent) (int, error) {
	inserted := 0
	for start := 0; start < len(events); start += s.batchSize {
		end := start + s.batchSize
		if end > len(events) {
			end = len(events)
		}
		n, err := s.loadChunk(ctx, events[start:end])
		if err != nil {
			return inserted, fmt.Errorf("load chunk at offset %d: %w", start, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (s *chunkedStrategy) loadChunk(ctx context.Context, chunk []domain.AlarmEvent) (int, error) {
	return retry.DoWithResult(ctx, s.retryCfg, func() (int, error) {
		existing, err := s.existingKeys(ctx, chunk)
		if err != nil {
			return 0, err
		}

		fresh := make([]domain.AlarmEvent, 0, len(chunk))
		for _, e := range chunk {
			if _, dup := existing[e.NaturalKey()]; dup {
				continue
			}
			fresh = append(fresh, e)
		}
		if len(fresh) == 0 {
			return 0, nil
		}

		err = s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Table(s.store.EventsTable()).Create(&fresh).Error
		})
		if err != nil {
			return 0, fmt.Errorf("insert %d events: %w", len(fresh), err)
		}
		return len(fresh), nil
	})
}

// existingKeys queries the permanent table for rows matching any of the
// chunk's natural keys and returns them as a set.
func (s *chunkedStrategy) existingKeys(ctx context.Context, chunk []domain.AlarmEvent) (map[domain.NaturalKey]struct{}, error) {
	const expr = "time = ? AND instance = ? AND code = ? AND name = ?"
	cond := s.store.DB()
	for i, e := range chunk {
		if i == 0 {
			cond = cond.Where(expr, e.Time, e.Instance, e.Code, e.Name)
		} else {
			cond = cond.Or(expr, e.Time, e.Instance, e.Code, e.Name)
		}
	}

	var rows []domain.AlarmEvent
	err := s.store.Events().WithContext(ctx).
		Select("time", "instance", "code", "name").
		Where(cond).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}

	keys := make(map[domain.NaturalKey]struct{}, len(rows))
	for _, r := range rows {
		keys[r.NaturalKey()] = struct{}{}
	}
	return keys, nil
}
