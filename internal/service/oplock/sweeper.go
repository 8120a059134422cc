package oplock

import (
	"context"
	"time"

	"github.com/osmakov/creditgate/internal/logger"
)

const (
	defaultSweepInterval   = 30 * time.Second
	defaultCleanupInterval = 10 * time.Minute
)

// Periodic global stale sweep and terminal-row cleanup
type Sweeper struct {
	service *Service
	logger  logger.Logger

	sweepInterval   time.Duration
	cleanupInterval time.Duration
}

func NewSweeper(service *Service, l logger.Logger) *Sweeper {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Sweeper{
		service:         service,
		logger:          l,
		sweepInterval:   defaultSweepInterval,
		cleanupInterval: defaultCleanupInterval,
	}
}

// Run sweeps until the context is cancelled. The returned channel closes
// when the loop has stopped, so the caller can wait on shutdown
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		sweepTicker := time.NewTicker(s.sweepInterval)
		defer sweepTicker.Stop()
		cleanupTicker := time.NewTicker(s.cleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				if _, err := s.service.SweepStale(ctx, nil); err != nil && ctx.Err() == nil {
					s.logger.Error("stale sweep failed", "error", err)
				}
			case <-cleanupTicker.C:
				count, err := s.service.Cleanup(ctx)
				if err != nil && ctx.Err() == nil {
					s.logger.Error("operation cleanup failed", "error", err)
					continue
				}
				if count > 0 {
					s.logger.Info("cleaned up finished operations", "count", count)
				}
			}
		}
	}()

	return stopped
}
