package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"zapis/internal/config"
	"zapis/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisLocker(t *testing.T) {
	s, client := newTestRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		token, ok, err := locker.TryLock(ctx, "booking:1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = locker.TryLock(ctx, "booking:1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, locker.Unlock(ctx, "booking:1", token))
		assert.False(t, s.Exists("lock:booking:1"))
	})

	t.Run("ForeignTokenDoesNotRelease", func(t *testing.T) {
		token, ok, err := locker.TryLock(ctx, "booking:2", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, locker.Unlock(ctx, "booking:2", "someone-else"))
		assert.True(t, s.Exists("lock:booking:2"))

		require.NoError(t, locker.Unlock(ctx, "booking:2", token))
	})

	t.Run("Expiry", func(t *testing.T) {
		_, ok, err := locker.TryLock(ctx, "booking:3", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		s.FastForward(2 * time.Second)

		_, ok, err = locker.TryLock(ctx, "booking:3", time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("NilClient", func(t *testing.T) {
		_, _, err := NewRedisLocker(nil).TryLock(ctx, "x", time.Second)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})
}

func TestRedisJobQueue(t *testing.T) {
	s, client := newTestRedis(t)
	queue := NewRedisJobQueue(client)
	ctx := context.Background()
	now := time.Date(2024, 11, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, queue.Push(ctx, 1, now.Add(-time.Minute)))
	require.NoError(t, queue.Push(ctx, 2, now))
	require.NoError(t, queue.Push(ctx, 3, now.Add(time.Hour)))

	ids, err := queue.PopDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = queue.PopDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = queue.PopDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)

	t.Run("Limit", func(t *testing.T) {
		for i := int64(10); i < 15; i++ {
			require.NoError(t, queue.Push(ctx, i, now))
		}
		ids, err := queue.PopDue(ctx, now, 2)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})

	t.Run("PushIsIdempotentPerID", func(t *testing.T) {
		s.Del(delayedJobsKey)
		require.NoError(t, queue.Push(ctx, 42, now))
		require.NoError(t, queue.Push(ctx, 42, now.Add(time.Minute)))
		members, err := s.ZMembers(delayedJobsKey)
		require.NoError(t, err)
		assert.Equal(t, []string{"42"}, members)
	})

	t.Run("DeadLetter", func(t *testing.T) {
		job := &models.Job{ID: 7, IdempotencyKey: "c1:booking_reminder:1", Type: models.JobBookingReminder}
		require.NoError(t, queue.PushDeadLetter(ctx, job))

		items, err := s.List(deadJobsKey)
		require.NoError(t, err)
		require.Len(t, items, 1)

		var got models.Job
		require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
		assert.Equal(t, int64(7), got.ID)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

func TestClose(t *testing.T) {
	assert.NoError(t, Close(nil))
	_, client := newTestRedis(t)
	assert.NoError(t, Close(client))
}
