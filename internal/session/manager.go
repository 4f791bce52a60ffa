package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/metastore"
	"github.com/p-arndt/setzkasten/internal/sandbox"
)

// keyAttempts bounds retries when a freshly generated key collides.
const keyAttempts = 5

// Manager creates, loads, saves and deletes sessions. It owns the working
// root and the per-instance session index in the metastore.
type Manager struct {
	root        *sandbox.Sandbox
	store       metastore.Store
	clock       clock.Clock
	instanceKey string
	ttlSec      float64
}

// NewManager builds a Manager over the given working directory.
func NewManager(store metastore.Store, clk clock.Clock, workingDirectory, instanceKey string, ttlSec float64) (*Manager, error) {
	root, err := sandbox.New(workingDirectory)
	if err != nil {
		return nil, fmt.Errorf("opening working directory: %w", err)
	}
	return &Manager{
		root:        root,
		store:       store,
		clock:       clk,
		instanceKey: instanceKey,
		ttlSec:      ttlSec,
	}, nil
}

// WorkingRoot is the sandbox over the working directory.
func (m *Manager) WorkingRoot() *sandbox.Sandbox {
	return m.root
}

// InstanceKey is the metastore set holding this instance's session keys.
func (m *Manager) InstanceKey() string {
	return m.instanceKey
}

func newKey() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:16]
}

// keyInUse reports whether a key is taken on disk or in the metastore. The
// two can disagree after a partial wipe, so both are consulted.
func (m *Manager) keyInUse(ctx context.Context, key string) bool {
	if m.root.Exists(key) {
		return true
	}
	_, err := m.store.Get(ctx, RedisKey(key))
	return err == nil
}

// Create validates the request, allocates a key and working directory, and
// persists the new editable session.
func (m *Manager) Create(ctx context.Context, compiler, target string, conv *Convert) (*Session, error) {
	if !SupportedCompiler(compiler) {
		return nil, fmt.Errorf("%w: compiler %q is not supported", ErrInvalidRequest, compiler)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	if err := ValidateConvert(conv); err != nil {
		return nil, err
	}

	key := newKey()
	for i := 0; m.keyInUse(ctx, key) && i < keyAttempts; i++ {
		key = newKey()
	}

	if err := m.root.MakeDirs(key); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	created := m.clock.Now()
	rec := Record{
		Key:       key,
		Compiler:  compiler,
		Target:    target,
		Convert:   conv,
		Created:   created,
		ExpiresAt: created + m.ttlSec,
		Status:    StatusEditable,
	}

	fs, err := m.root.Sub(key)
	if err != nil {
		return nil, err
	}
	sess, err := attach(rec, fs, m.saveFunc(ctx))
	if err != nil {
		return nil, err
	}

	if err := m.store.SAdd(ctx, m.instanceKey, key); err != nil {
		return nil, err
	}
	if err := m.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load fetches a session record from the metastore and rehydrates its
// working directory sandbox. Returns ErrNotFound when the record is absent.
func (m *Manager) Load(ctx context.Context, key string) (*Session, error) {
	data, err := m.store.Get(ctx, RedisKey(key))
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", key, err)
	}

	if !m.root.Exists(key) {
		if err := m.root.MakeDirs(key); err != nil {
			return nil, fmt.Errorf("restoring session directory: %w", err)
		}
	}
	fs, err := m.root.Sub(key)
	if err != nil {
		return nil, err
	}
	return attach(rec, fs, m.saveFunc(ctx))
}

// Save serializes the full record, including product and log paths, under
// "session:<key>".
func (m *Manager) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s.Record)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.Key, err)
	}
	return m.store.Set(ctx, RedisKey(s.Key), data)
}

func (m *Manager) saveFunc(ctx context.Context) SaveFunc {
	return func(s *Session) error {
		return m.Save(ctx, s)
	}
}

// Delete removes the working tree, the metastore record and the index
// membership. Missing pieces are treated as already deleted.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.root.RemoveTree(key); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, RedisKey(key)); err != nil {
		return err
	}
	return m.store.SRem(ctx, m.instanceKey, key)
}

// Forget drops a key from the instance index without touching anything
// else. Used by the sweeper to heal dangling index entries.
func (m *Manager) Forget(ctx context.Context, key string) error {
	return m.store.SRem(ctx, m.instanceKey, key)
}

// AllSessionKeys lists every live session key created by this instance.
func (m *Manager) AllSessionKeys(ctx context.Context) ([]string, error) {
	return m.store.SMembers(ctx, m.instanceKey)
}
