package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"zapis/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockLocker) Unlock(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Push(ctx context.Context, id int64, runAt time.Time) error {
	args := m.Called(ctx, id, runAt)
	return args.Error(0)
}

func (m *mockQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockQueue) PushDeadLetter(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("TryLock", ctx, "booking:1", time.Second).Return("tok", true, nil).Once()

		token, ok, err := locker.TryLock(ctx, "booking:1", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "tok", token)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("TryLock", ctx, "booking:2", time.Second).Return("", false, errors.New("fail")).Once()
		fallback.On("TryLock", ctx, "booking:2", time.Second).Return("mem", true, nil).Once()

		token, ok, err := locker.TryLock(ctx, "booking:2", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "mem", token)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDown", func(t *testing.T) {
		locker.lastCheck = time.Now()
		fallback.On("TryLock", ctx, "booking:3", time.Second).Return("mem", true, nil).Once()
		fallback.On("Unlock", ctx, "booking:3", "mem").Return(nil).Once()

		_, ok, err := locker.TryLock(ctx, "booking:3", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, locker.Unlock(ctx, "booking:3", "mem"))
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("TryLock", ctx, "booking:4", time.Second).Return("tok", true, nil).Once()

		_, ok, err := locker.TryLock(ctx, "booking:4", time.Second)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("UnlockBothBackends", func(t *testing.T) {
		primary.On("Unlock", ctx, "booking:4", "tok").Return(nil).Once()
		fallback.On("Unlock", ctx, "booking:4", "tok").Return(nil).Once()

		assert.NoError(t, locker.Unlock(ctx, "booking:4", "tok"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestFailoverJobQueue(t *testing.T) {
	primary := new(mockQueue)
	fallback := new(mockQueue)
	logger := zerolog.New(io.Discard)
	queue := NewFailoverJobQueue(primary, fallback, &logger)
	ctx := context.Background()
	now := time.Date(2024, 11, 20, 12, 0, 0, 0, time.UTC)

	t.Run("PushPrimary", func(t *testing.T) {
		primary.On("Push", ctx, int64(1), now).Return(nil).Once()
		assert.NoError(t, queue.Push(ctx, 1, now))
		primary.AssertExpectations(t)
	})

	t.Run("PushFailover", func(t *testing.T) {
		primary.On("Push", ctx, int64(2), now).Return(errors.New("fail")).Once()
		fallback.On("Push", ctx, int64(2), now).Return(nil).Once()

		assert.NoError(t, queue.Push(ctx, 2, now))
		assert.True(t, queue.isDown.Load())
		fallback.AssertExpectations(t)
	})

	t.Run("PopDueMergesFallback", func(t *testing.T) {
		queue.isDown.Store(false)
		primary.On("PopDue", ctx, now, 5).Return([]int64{1}, nil).Once()
		fallback.On("PopDue", ctx, now, 4).Return([]int64{2}, nil).Once()

		ids, err := queue.PopDue(ctx, now, 5)
		assert.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("PopDuePrimaryDown", func(t *testing.T) {
		primary.On("PopDue", ctx, now, 5).Return(nil, errors.New("fail")).Once()
		fallback.On("PopDue", ctx, now, 5).Return([]int64{3}, nil).Once()

		ids, err := queue.PopDue(ctx, now, 5)
		assert.NoError(t, err)
		assert.Equal(t, []int64{3}, ids)
		assert.True(t, queue.isDown.Load())
	})

	t.Run("DeadLetterWhileDown", func(t *testing.T) {
		queue.lastCheck = time.Now()
		job := &models.Job{ID: 4}
		fallback.On("PushDeadLetter", ctx, job).Return(nil).Once()

		assert.NoError(t, queue.PushDeadLetter(ctx, job))
		fallback.AssertExpectations(t)
	})
}
