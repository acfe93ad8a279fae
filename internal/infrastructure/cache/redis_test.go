package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, "tp:", logger.NewNop()), mr
}

func TestCheckRateLimit_FixedWindow(t *testing.T) {
	c, _ := newTestCache(t)
	start := time.Date(2026, 10, 14, 12, 0, 5, 0, time.UTC)
	c.now = func() time.Time { return start }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := c.CheckRateLimit(ctx, "lists:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(2-i), remaining)
	}

	allowed, remaining, reset, err := c.CheckRateLimit(ctx, "lists:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, time.Date(2026, 10, 14, 12, 1, 0, 0, time.UTC), reset.UTC())

	// other callers have their own counter
	allowed, _, _, err = c.CheckRateLimit(ctx, "lists:10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	// next window starts fresh
	c.now = func() time.Time { return start.Add(time.Minute) }
	allowed, _, _, err = c.CheckRateLimit(ctx, "lists:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPublishSnapshot_MirrorsAndAnnounces(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	sub := c.client.Subscribe(ctx, "tp:"+ChannelSnapshots)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	snap := models.NewEmptySnapshot(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	snap.ID = "snap-1"
	snap.TotalThreats = 9
	snap.Status = models.SnapshotStatusOK

	require.NoError(t, c.PublishSnapshot(ctx, snap))

	assert.True(t, mr.Exists("tp:"+KeySnapshotLatest))
	assert.Greater(t, mr.TTL("tp:"+KeySnapshotLatest), time.Duration(0))

	raw, err := mr.Get("tp:" + KeySnapshotLatest)
	require.NoError(t, err)
	var got models.AggregateSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, 9, got.TotalThreats)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tp:"+ChannelSnapshots, msg.Channel)
	var notice SnapshotNotice
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
	assert.Equal(t, "snap-1", notice.ID)
	assert.Equal(t, 9, notice.TotalThreats)
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "aggregator", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "aggregator", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ExtendLock(ctx, "aggregator", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("tp:lock:aggregator"))

	require.NoError(t, c.ReleaseLock(ctx, "aggregator"))
	ok, err = c.AcquireLock(ctx, "aggregator", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.AcquireLock(ctx, "aggregator", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free again")
}
