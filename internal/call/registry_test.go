package call

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/internal/observability/metrics"
)

func TestRegistryLifecycle(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry(metrics.NewCallMetrics(prometheus.NewRegistry()))

	a, err := NewSession(Params{CallID: "call-a"}, h.svc)
	require.NoError(t, err)
	b, err := NewSession(Params{CallID: "call-b"}, h.svc)
	require.NoError(t, err)

	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.Has("call-a"))

	dup, err := NewSession(Params{CallID: "call-a"}, h.svc)
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Add(dup), ErrDuplicateCall)

	// Removing a session that lost the race leaves the registered one alone.
	reg.Remove(dup)
	assert.True(t, reg.Has("call-a"))

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "call-a", snaps[0].CallID)
	assert.Equal(t, "speaking", snaps[0].State)

	reg.Remove(a)
	_, ok := reg.Get("call-a")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())

	reg.StopAll()
	<-b.Done()
}

func TestMemoryPendingStoreTakeOnce(t *testing.T) {
	store := NewMemoryPendingStore(time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Pending{CallID: "call-1", Number: "5511912345678"}))

	got, err := store.Take(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "5511912345678", got.Number)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.Take(ctx, "call-1")
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestMemoryPendingStoreExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryPendingStore(2 * time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Pending{CallID: "stale"}))
	require.NoError(t, store.Put(ctx, Pending{CallID: "expired-on-take"}))
	now = now.Add(3 * time.Minute)
	require.NoError(t, store.Put(ctx, Pending{CallID: "fresh"}))

	_, err := store.Take(ctx, "expired-on-take")
	assert.ErrorIs(t, err, ErrPendingNotFound)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
	_, err = store.Take(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryPendingStoreRunStops(t *testing.T) {
	store := NewMemoryPendingStore(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()
	require.NoError(t, store.Put(ctx, Pending{CallID: "x"}))
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisPendingStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisPendingStore(rdb, 2*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Pending{
		CallID:  "call-9",
		Number:  "5511988887777",
		Source:  "campaign",
		Profile: &Profile{PromptID: 3, Greeting: "Oi"},
	}))
	assert.True(t, mr.Exists("ligai:pending:call-9"))
	assert.Equal(t, 2*time.Minute, mr.TTL("ligai:pending:call-9"))

	got, err := store.Take(ctx, "call-9")
	require.NoError(t, err)
	assert.Equal(t, "campaign", got.Source)
	require.NotNil(t, got.Profile)
	assert.Equal(t, int64(3), got.Profile.PromptID)

	_, err = store.Take(ctx, "call-9")
	assert.ErrorIs(t, err, ErrPendingNotFound)

	require.NoError(t, store.Put(ctx, Pending{CallID: "call-10"}))
	mr.FastForward(3 * time.Minute)
	_, err = store.Take(ctx, "call-10")
	assert.ErrorIs(t, err, ErrPendingNotFound)

	assert.Error(t, store.Put(ctx, Pending{}))
}

func TestRedisStateMirror(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mirror := NewRedisStateMirror(rdb)
	ctx := context.Background()

	_, ok, err := mirror.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mirror.Publish(ctx, Snapshot{CallID: "call-1", State: "processing", Messages: 3}))
	assert.Equal(t, 24*time.Hour, mr.TTL("ligai:call:call-1"))

	snap, ok, err := mirror.Get(ctx, "call-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "processing", snap.State)
	assert.Equal(t, 3, snap.Messages)
}

func TestRegistryHangupTargetsChannel(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry(nil)
	s, err := NewSession(Params{CallID: "call-h", ChannelID: "chan-h"}, h.svc)
	require.NoError(t, err)
	require.NoError(t, reg.Add(s))

	snap, ok := reg.Snapshot("call-h")
	require.True(t, ok)
	assert.Equal(t, "chan-h", snap.ChannelID)

	res, err := reg.Hangup(context.Background(), "call-h")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"chan-h"}, h.sw.hangups)

	_, err = reg.Hangup(context.Background(), "call-missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
	_, ok = reg.Snapshot("call-missing")
	assert.False(t, ok)
}
