package storage

import (
	"context"
	"time"

	"coralcam/internal/logger"
)

// Pruner deletes journaled frames captured before a point in time.
type Pruner interface {
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// RetentionService periodically removes journaled frames older than the
// retention window.
type RetentionService struct {
	pruner   Pruner
	keep     time.Duration
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewRetentionService(pruner Pruner, keep, interval time.Duration, logger *logger.Logger) *RetentionService {
	return &RetentionService{
		pruner:   pruner,
		keep:     keep,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run prunes once immediately and then on every tick until ctx is done.
func (s *RetentionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Prune removes everything captured before now minus the retention window.
func (s *RetentionService) Prune(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.keep)
	deleted, err := s.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Error pruning detection journal: %v", err)
		}
		return 0
	}
	if deleted > 0 {
		s.logger.Info("Pruned %d journaled frames older than %s", deleted, s.keep)
	}
	return deleted
}
