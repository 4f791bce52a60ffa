// Package metastore abstracts the key/value and set primitives used to
// persist session metadata and the per-instance session index. The redis
// backend is the default; the sqlite backend serves single-node deployments
// and the test suite.
package metastore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is absent or a set is empty.
var ErrNotFound = errors.New("not found")

// Store is the minimal key/value + set interface the service relies on. No
// atomicity is assumed across keys; callers tolerate non-atomic pairs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SPop(ctx context.Context, key string) (string, error)

	Close() error
}
