package contracts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"contractflow/internal/models"
)

const (
	DefaultStaleAfter    = 30 * time.Minute
	DefaultReapInterval  = 5 * time.Minute
	staleAnalysisSummary = "analysis interrupted, please upload again"
)

// StartStaleReaper periodically fails records left PENDING for longer than
// staleAfter, e.g. after a crash between record creation and the terminal commit.
func (s *Service) StartStaleReaper(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	go s.reapLoop(ctx, interval, staleAfter)
}

func (s *Service) reapLoop(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ReapStale(ctx, time.Now().UTC().Add(-staleAfter)); err != nil {
				slog.Error("reap stale contracts", "error", err)
			} else if n > 0 {
				slog.Info("reaped stale contracts", "count", n)
			}
		}
	}
}

// ReapStale finalizes as ERROR every PENDING record created before cutoff.
func (s *Service) ReapStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM contracts WHERE status = ? AND created_at < ?`,
		string(models.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		err := s.Finalize(ctx, id, Result{Status: models.StatusError, Summary: staleAnalysisSummary})
		switch {
		case err == nil:
			reaped++
		case errors.Is(err, ErrAlreadyFinal):
			// finished while we were scanning
		default:
			slog.Error("finalize stale contract", "contract_id", id, "error", err)
		}
	}
	return reaped, nil
}
