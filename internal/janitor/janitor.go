package janitor

import (
	"context"
	"log/slog"
	"time"
)

// ledgerSweeper is the slice of the idempotency ledger the janitor needs:
// releasing provisional records whose holder never finished, and collecting
// completed records past retention.
type ledgerSweeper interface {
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Janitor struct {
	ledger     ledgerSweeper
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func New(ledger ledgerSweeper, interval, staleAfter time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}

	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}

	return &Janitor{
		ledger:     ledger,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", "interval", j.interval, "stale_after", j.staleAfter)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	now := time.Now()

	released, err := j.ledger.ReleaseStale(ctx, now.Add(-j.staleAfter))
	if err != nil {
		j.logger.Error("failed to release stale reservations", "error", err)
	} else if released > 0 {
		j.logger.Info("released stale reservations", "count", released)
	}

	deleted, err := j.ledger.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("failed to delete expired records", "error", err)
	} else if deleted > 0 {
		j.logger.Info("deleted expired records", "count", deleted)
	}
}
