package api

import "context"

// TaskQueue dispatches compile jobs out of band from HTTP requests. Backed
// by the Redis task queue in production and an in-process worker in
// single-binary mode.
type TaskQueue interface {
	EnqueueCompile(ctx context.Context, sessionKey string) error
}
