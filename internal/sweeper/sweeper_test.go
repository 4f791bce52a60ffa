package sweeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/metastore"
	"github.com/p-arndt/setzkasten/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, clk clock.Clock) (*session.Manager, metastore.Store) {
	t.Helper()
	st, err := metastore.NewSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mgr, err := session.NewManager(st, clk, t.TempDir(), "sweep-test", 300)
	require.NoError(t, err)
	return mgr, st
}

func TestSweep_ExpiredOnly(t *testing.T) {
	clk := clock.NewTestClock(0)
	mgr, _ := newTestManager(t, clk)
	ctx := context.Background()

	// Eight sessions created at minute intervals, TTL 300s.
	keys := make([]string, 8)
	for i := 0; i < 8; i++ {
		clk.Set(float64(i * 60))
		sess, err := mgr.Create(ctx, "xelatex", fmt.Sprintf("doc%d.tex", i), nil)
		require.NoError(t, err)
		keys[i] = sess.Key
	}

	clk.Set(8*60 + 1)
	sw := New(mgr, clk, time.Minute, testLogger())
	require.NoError(t, sw.Sweep(ctx))

	for i, key := range keys {
		expired := float64(i*60)+300 <= 8*60+1
		_, err := mgr.Load(ctx, key)
		if expired {
			assert.ErrorIs(t, err, session.ErrNotFound, "session %d should be swept", i)
			assert.False(t, mgr.WorkingRoot().Exists(key))
		} else {
			assert.NoError(t, err, "session %d should survive", i)
			assert.True(t, mgr.WorkingRoot().Exists(key))
		}
	}

	remaining, err := mgr.AllSessionKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 4) // created at t=240 and later
}

func TestSweep_NothingExpired(t *testing.T) {
	clk := clock.NewTestClock(1000)
	mgr, _ := newTestManager(t, clk)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "xelatex", "doc.tex", nil)
	require.NoError(t, err)

	clk.Advance(299)
	sw := New(mgr, clk, time.Minute, testLogger())
	require.NoError(t, sw.Sweep(ctx))

	_, err = mgr.Load(ctx, sess.Key)
	assert.NoError(t, err)
}

func TestSweep_HealsDanglingIndexEntries(t *testing.T) {
	clk := clock.NewTestClock(0)
	mgr, st := newTestManager(t, clk)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "xelatex", "doc.tex", nil)
	require.NoError(t, err)

	// Simulate a half-deleted session: the record is gone but the index
	// still holds the key.
	require.NoError(t, st.Delete(ctx, session.RedisKey(sess.Key)))

	sw := New(mgr, clk, time.Minute, testLogger())
	require.NoError(t, sw.Sweep(ctx))

	keys, err := mgr.AllSessionKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSweep_ExactExpiryBoundary(t *testing.T) {
	clk := clock.NewTestClock(0)
	mgr, _ := newTestManager(t, clk)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "xelatex", "doc.tex", nil)
	require.NoError(t, err)

	// now == expires_at is expired.
	clk.Set(300)
	sw := New(mgr, clk, time.Minute, testLogger())
	require.NoError(t, sw.Sweep(ctx))

	_, err = mgr.Load(ctx, sess.Key)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
