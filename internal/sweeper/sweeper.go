// Package sweeper reclaims expired sessions: their metastore records, their
// index membership, and their on-disk working trees.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/metrics"
	"github.com/p-arndt/setzkasten/internal/session"
)

// Sweeper periodically deletes sessions whose TTL has elapsed.
type Sweeper struct {
	mgr      *session.Manager
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

func New(mgr *session.Manager, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		mgr:      mgr,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. Used in
// single-binary mode; under the task scheduler, Sweep is invoked as a
// periodic job instead.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep enumerates the instance's session index and deletes every session
// whose expiry has passed. Index entries whose record is gone are removed
// from the index; the store tolerates partial deletions, so the sweep is
// also the self-healing pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	keys, err := s.mgr.AllSessionKeys(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	swept := 0
	for _, key := range keys {
		sess, err := s.mgr.Load(ctx, key)
		if errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("removing dangling index entry", "session_key", key)
			if err := s.mgr.Forget(ctx, key); err != nil {
				s.logger.Error("forget dangling entry", "session_key", key, "error", err)
			}
			continue
		}
		if err != nil {
			s.logger.Error("load session during sweep", "session_key", key, "error", err)
			continue
		}

		if now < sess.ExpiresAt {
			continue
		}

		s.logger.Info("sweeping expired session",
			"session_key", key, "status", sess.Status, "expired_at", sess.ExpiresAt)
		if err := s.mgr.Delete(ctx, key); err != nil {
			s.logger.Error("delete expired session", "session_key", key, "error", err)
			continue
		}
		metrics.SessionsSwept.Inc()
		swept++
	}

	if swept > 0 {
		s.logger.Info("sweep complete", "swept", swept)
	}
	return nil
}
