package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultMemorySweepInterval = time.Hour

// StartMemorySweeper begins a background loop that removes expired short-term
// memory rows. Enforcement also happens at read time; the sweeper just keeps
// the table from growing without bound.
func (s *Service) StartMemorySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMemorySweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepExpiredMemories(ctx); err != nil {
				s.logger.Error("sweep expired memories failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) sweepExpiredMemories(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM short_term_memories WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return err
	}
	if removed, _ := res.RowsAffected(); removed > 0 {
		s.logger.Info("expired short-term memories removed", zap.Int64("count", removed))
	}
	return nil
}
