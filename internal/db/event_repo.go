package db

import (
	"context"
	"log/slog"
	"time"

	"subsync/internal/types"
)

// ProcessedEventRepo is a durable Deduper backed by a unique constraint on
// the processed_events table. Preferred when neither in-memory state nor a
// Redis instance is acceptable; survives restarts.
type ProcessedEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedEventRepo creates a new ProcessedEventRepo.
func NewProcessedEventRepo(db DBTX, logger *slog.Logger) *ProcessedEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedEventRepo{db: db, logger: logger}
}

// MarkProcessed implements dedup.Deduper. The unique index on event_key makes
// the insert the atomic check-and-set; a conflict means another delivery got
// there first.
func (r *ProcessedEventRepo) MarkProcessed(ctx context.Context, key string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_key, processed_at)
		 VALUES ($1, NOW())
		 ON CONFLICT (event_key) DO NOTHING`,
		key,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDedup, "failed to record processed event", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DefaultRetentionDays is how long processed-event rows are kept before the
// pruner removes them. Provider retries arrive within minutes; a week covers
// any replay window with a wide margin.
const DefaultRetentionDays = 7

// PruneOlderThan deletes processed-event rows older than the given interval
// in days, bounding table growth. Returns the number of rows removed.
func (r *ProcessedEventRepo) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < NOW() - ($1 || ' days')::interval`,
		days,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDedup, "failed to prune processed events", err)
	}
	return tag.RowsAffected(), nil
}

// RunPruner prunes expired rows every interval until ctx is canceled.
// Intended to be run in an errgroup alongside the HTTP server; cancellation
// is a normal shutdown, not an error. Prune failures are logged and retried
// on the next tick rather than taking the process down.
func (r *ProcessedEventRepo) RunPruner(ctx context.Context, interval time.Duration, retainDays int) error {
	if interval <= 0 {
		interval = time.Hour
	}
	if retainDays <= 0 {
		retainDays = DefaultRetentionDays
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.PruneOlderThan(ctx, retainDays)
			if err != nil {
				r.logger.ErrorContext(ctx, "failed to prune processed events", "error", err)
				continue
			}
			if n > 0 {
				r.logger.InfoContext(ctx, "pruned processed events", "rows", n)
			}
		}
	}
}
