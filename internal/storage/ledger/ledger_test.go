package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-broadcast-service/internal/storage/ledger"
	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

func newLedger(t *testing.T, ttl time.Duration) (*ledger.Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return ledger.New(rdb, ttl, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestLedger_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	l, mr := newLedger(t, time.Hour)

	require.NoError(t, l.Record(ctx, "session-1", dispatch.Result{Sent: 480, Failed: 20, Total: 500}))
	require.NoError(t, l.Record(ctx, "session-1", dispatch.Result{Sent: 250, Failed: 0, Total: 250}))

	session, err := l.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, &ledger.Session{
		ID:      "session-1",
		Sent:    730,
		Failed:  20,
		Total:   750,
		Batches: 2,
	}, session)

	assert.True(t, mr.Exists("broadcast:session:session-1"))
	assert.Equal(t, time.Hour, mr.TTL("broadcast:session:session-1"))
}

func TestLedger_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, time.Hour)

	require.NoError(t, l.Record(ctx, "a", dispatch.Result{Sent: 1, Total: 1}))
	require.NoError(t, l.Record(ctx, "b", dispatch.Result{Failed: 3, Total: 3}))

	a, err := l.Get(ctx, "a")
	require.NoError(t, err)
	b, err := l.Get(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, 1, a.Sent)
	assert.Equal(t, 0, a.Failed)
	assert.Equal(t, 3, b.Failed)
	assert.Equal(t, 1, b.Batches)
}

func TestLedger_Expiry(t *testing.T) {
	ctx := context.Background()
	l, mr := newLedger(t, time.Minute)

	require.NoError(t, l.Record(ctx, "short-lived", dispatch.Result{Sent: 5, Total: 5}))
	mr.FastForward(2 * time.Minute)

	_, err := l.Get(ctx, "short-lived")
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestLedger_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown session", func(t *testing.T) {
		l, _ := newLedger(t, 0)
		_, err := l.Get(ctx, "missing")
		assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
	})

	t.Run("Empty session id is rejected", func(t *testing.T) {
		l, _ := newLedger(t, 0)
		assert.Error(t, l.Record(ctx, "", dispatch.Result{}))
	})

	t.Run("Corrupt field is reported", func(t *testing.T) {
		l, mr := newLedger(t, 0)
		mr.HSet("broadcast:session:bad", "sent", "lots")
		_, err := l.Get(ctx, "bad")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ledger.ErrSessionNotFound)
	})

	t.Run("Unreachable redis surfaces an error", func(t *testing.T) {
		l, mr := newLedger(t, 0)
		mr.Close()
		assert.Error(t, l.Record(ctx, "s", dispatch.Result{Sent: 1, Total: 1}))
	})
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	rdb, err := ledger.NewRedisClient(addr, "", 0)
	require.NoError(t, err)
	_ = rdb.Close()

	mr.Close()
	_, err = ledger.NewRedisClient(addr, "", 0)
	assert.Error(t, err)
}
