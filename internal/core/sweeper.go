package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/session"

	"go.uber.org/zap"
)

// ReclaimIdle closes open and active sessions whose last activity is strictly
// older than maxIdle, recording OutcomeAbandoned. It returns how many were
// closed.
func (c *Controller) ReclaimIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	ctx = context.WithoutCancel(ctx)
	now := c.now()
	cutoff := now.Add(-maxIdle)

	live, err := c.list(ctx, session.StatusOpen, session.StatusActive)
	if err != nil {
		return 0, err
	}

	var errs []error
	reclaimed := 0
	for _, candidate := range live {
		if !candidate.LastActivityAt.Before(cutoff) {
			continue
		}
		closed := false
		s, err := c.mutate(ctx, candidate.ID, func(s *session.Session) (bool, error) {
			// re-check under the lock; a connect may have touched it
			if !s.IsLive() || !s.LastActivityAt.Before(cutoff) {
				return false, nil
			}
			closed = true
			return true, s.Close(session.OutcomeAbandoned, now)
		}, func(s *session.Session) {
			c.broadcast(s, Event{Type: EventActivityClosed, Data: ClosedData{
				SessionID: s.ID,
				Outcome:   s.Outcome,
				ClosedAt:  s.ClosedAt,
			}})
		})
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !closed {
			continue
		}

		reclaimed++
		c.metrics.SessionClosed(string(session.OutcomeAbandoned))
		c.logger.Info("reclaimed idle session",
			zap.String("session", s.ID),
			zap.Time("last_activity", candidate.LastActivityAt))
	}
	c.metrics.Reclaimed(reclaimed)
	return reclaimed, errors.Join(errs...)
}

// PurgeOld deletes closed sessions whose ClosedAt is strictly older than
// maxRetention. It returns how many were deleted.
func (c *Controller) PurgeOld(ctx context.Context, maxRetention time.Duration) (int, error) {
	ctx = context.WithoutCancel(ctx)
	cutoff := c.now().Add(-maxRetention)

	closed, err := c.list(ctx, session.StatusClosed)
	if err != nil {
		return 0, err
	}

	var errs []error
	purged := 0
	for _, s := range closed {
		if s.ClosedAt == nil || !s.ClosedAt.Before(cutoff) {
			continue
		}
		deleted, err := c.purge(ctx, s.ID, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deleted {
			purged++
			c.dropSessionBindings(s.ID)
		}
	}
	if purged > 0 {
		c.logger.Info("purged closed sessions", zap.Int("count", purged))
	}
	c.metrics.Purged(purged)
	return purged, errors.Join(errs...)
}

func (c *Controller) purge(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	s, err := c.get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// a reset may have revived it since the listing
	if s.Status != session.StatusClosed || s.ClosedAt == nil || !s.ClosedAt.Before(cutoff) {
		return false, nil
	}
	err = c.withTimeout(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, id)
	})
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Cleanup reclaims sessions idle longer than maxIdle and purges closed ones
// past the configured retention.
func (c *Controller) Cleanup(ctx context.Context, maxIdle time.Duration) (reclaimed, purged int, err error) {
	reclaimed, rerr := c.ReclaimIdle(ctx, maxIdle)
	purged, perr := c.PurgeOld(ctx, c.cfg.Retention)
	return reclaimed, purged, errors.Join(rerr, perr)
}

// Sweeper runs ReclaimIdle and PurgeOld on independent tickers.
type Sweeper struct {
	controller *Controller
	logger     *zap.Logger
	cfg        config.LifecycleConfig
	running    *atomic.Bool
	stopped    *atomic.Bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewSweeper creates a sweeper for controller
func NewSweeper(controller *Controller, logger *zap.Logger, cfg config.LifecycleConfig) *Sweeper {
	cfg.ApplyDefaults()
	return &Sweeper{
		controller: controller,
		logger:     logger.Named("core.sweeper"),
		cfg:        cfg,
		running:    &atomic.Bool{},
		stopped:    &atomic.Bool{},
		stopChan:   make(chan struct{}),
	}
}

// Start begins both sweep loops. Calling it twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(2)
	go s.loop(ctx, "reclaim", s.cfg.ReclaimInterval, s.reclaim)
	go s.loop(ctx, "purge", s.cfg.PurgeInterval, s.purge)
	s.logger.Info("Started session sweeper",
		zap.Duration("reclaim_interval", s.cfg.ReclaimInterval),
		zap.Duration("idle_timeout", s.cfg.IdleTimeout),
		zap.Duration("purge_interval", s.cfg.PurgeInterval),
		zap.Duration("retention", s.cfg.Retention))
}

// Stop halts both loops and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.running.CompareAndSwap(true, false) {
		if s.stopped.CompareAndSwap(false, true) {
			close(s.stopChan)
		}
		s.wg.Wait()
		s.logger.Info("Stopped session sweeper")
	}
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	return s.running.Load()
}

// SweepOnce runs one reclaim and one purge pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (reclaimed, purged int, err error) {
	reclaimed, rerr := s.controller.ReclaimIdle(ctx, s.cfg.IdleTimeout)
	purged, perr := s.controller.PurgeOld(ctx, s.cfg.Retention)
	return reclaimed, purged, errors.Join(rerr, perr)
}

func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweep loop stopped due to context cancellation", zap.String("loop", name))
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Sweeper) reclaim(ctx context.Context) {
	n, err := s.controller.ReclaimIdle(ctx, s.cfg.IdleTimeout)
	if err != nil {
		s.logger.Warn("idle reclamation failed", zap.Int("reclaimed", n), zap.Error(err))
	}
}

func (s *Sweeper) purge(ctx context.Context) {
	n, err := s.controller.PurgeOld(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Warn("retention purge failed", zap.Int("purged", n), zap.Error(err))
	}
}
