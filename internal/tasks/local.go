package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-arndt/setzkasten/internal/render"
)

// Local is an in-process compile queue for single-binary deployments that
// run without a Redis broker. Jobs run FIFO on one worker goroutine.
type Local struct {
	renderer *render.Renderer
	logger   *slog.Logger
	jobs     chan string
}

// NewLocal builds a local queue with the given backlog capacity.
func NewLocal(renderer *render.Renderer, backlog int, logger *slog.Logger) *Local {
	return &Local{
		renderer: renderer,
		logger:   logger,
		jobs:     make(chan string, backlog),
	}
}

// EnqueueCompile pushes a session onto the queue without blocking the
// request; a full backlog is reported to the caller.
func (l *Local) EnqueueCompile(ctx context.Context, sessionKey string) error {
	select {
	case l.jobs <- sessionKey:
		return nil
	default:
		return fmt.Errorf("compile backlog full, rejecting session %s", sessionKey)
	}
}

// Run consumes jobs until the context is cancelled.
func (l *Local) Run(ctx context.Context) {
	l.logger.Info("local compile worker started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("local compile worker stopped")
			return
		case key := <-l.jobs:
			l.logger.Info("compile job started", "session_key", key)
			if err := l.renderer.Compile(ctx, key); err != nil {
				l.logger.Error("compile job failed", "session_key", key, "error", err)
			}
		}
	}
}
