// Package tasks wires the background work onto the Redis task queue: compile
// jobs enqueued by the API server, and the periodic expiry sweep registered
// on the scheduler. The worker binary consumes both.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/p-arndt/setzkasten/internal/render"
	"github.com/p-arndt/setzkasten/internal/sweeper"
)

// Task type names.
const (
	TypeCompile = "session:compile"
	TypeSweep   = "session:sweep"
)

// QueueName is the queue compile jobs are pushed to.
const QueueName = "latex"

// CompilePayload identifies the session a compile job operates on.
type CompilePayload struct {
	SessionKey string `json:"session_key"`
}

// NewCompileTask builds a compile task for the given session.
func NewCompileTask(sessionKey string) (*asynq.Task, error) {
	payload, err := json.Marshal(CompilePayload{SessionKey: sessionKey})
	if err != nil {
		return nil, err
	}
	// A failed compile is reported through the session status, not retried.
	return asynq.NewTask(TypeCompile, payload, asynq.Queue(QueueName), asynq.MaxRetry(0)), nil
}

// Client enqueues compile jobs from the API server.
type Client struct {
	inner *asynq.Client
}

// NewClient connects a task client to the Redis broker.
func NewClient(redisOpt asynq.RedisConnOpt) *Client {
	return &Client{inner: asynq.NewClient(redisOpt)}
}

// EnqueueCompile schedules a background compilation of the session.
func (c *Client) EnqueueCompile(ctx context.Context, sessionKey string) error {
	task, err := NewCompileTask(sessionKey)
	if err != nil {
		return err
	}
	if _, err := c.inner.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueueing compile for %s: %w", sessionKey, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// NewServeMux registers the worker-side handlers.
func NewServeMux(renderer *render.Renderer, sw *sweeper.Sweeper, logger *slog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeCompile, func(ctx context.Context, t *asynq.Task) error {
		var p CompilePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decoding compile payload: %w", err)
		}
		logger.Info("compile job started", "session_key", p.SessionKey)
		if err := renderer.Compile(ctx, p.SessionKey); err != nil {
			// Fatal: log and abandon; the session stays finalized until the
			// sweeper reclaims it.
			logger.Error("compile job failed", "session_key", p.SessionKey, "error", err)
			return err
		}
		return nil
	})

	mux.HandleFunc(TypeSweep, func(ctx context.Context, t *asynq.Task) error {
		return sw.Sweep(ctx)
	})

	return mux
}

// NewServer builds the queue consumer.
func NewServer(redisOpt asynq.RedisConnOpt, concurrency int, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      slogAdapter{logger},
	})
}

// NewScheduler builds the periodic scheduler with the expiry sweep
// registered at the configured interval.
func NewScheduler(redisOpt asynq.RedisConnOpt, sweepInterval time.Duration, logger *slog.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: slogAdapter{logger},
	})
	spec := fmt.Sprintf("@every %s", sweepInterval)
	if _, err := scheduler.Register(spec, asynq.NewTask(TypeSweep, nil), asynq.Queue(QueueName)); err != nil {
		return nil, fmt.Errorf("registering sweep task: %w", err)
	}
	return scheduler, nil
}

// slogAdapter bridges asynq's logger interface onto slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
