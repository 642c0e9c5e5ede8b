package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/registry"
	"notifyhub/pkg/metrics"
)

// Sweeper force-closes registrations that have not seen a successful send
// within StaleAfter. Heartbeats normally keep every live entry fresh.
type Sweeper struct {
	registry   *registry.Registry
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
}

func NewSweeper(reg *registry.Registry, interval, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Sweeper{
		registry:   reg,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Stale connection sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stale connection sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce closes stale entries and returns how many were removed.
func (s *Sweeper) SweepOnce() int {
	removed := 0
	for _, e := range s.registry.Stale(s.staleAfter) {
		if !s.registry.Deregister(e.UserID, e.Handle) {
			continue
		}
		e.Handle.Close()
		removed++
		metrics.IncrementSessionClosed("stale")
		s.logger.Info("Swept stale connection",
			zap.String("user_id", e.UserID),
			zap.Time("last_activity", e.LastActivity),
		)
	}
	return removed
}
