package worker

import (
	"context"
	"testing"
	"time"

	"zapis/internal/database"
	"zapis/internal/models"
	"zapis/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 11, 18, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.UpsertService(context.Background(), &models.Service{
		ID: "massage", Name: "Massage", DurationMinutes: 60, Price: decimal.NewFromInt(80), Currency: "THB", IsActive: true,
	}))
	return db
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestQueue(t *testing.T, db *database.DB, policy RetryPolicy) (*Queue, *repository.MemoryJobQueue, *clock) {
	t.Helper()
	logger := zerolog.Nop()
	wake := repository.NewMemoryJobQueue()
	q := NewQueue(db, wake, policy, time.Minute, &logger)
	c := &clock{t: base}
	q.now = c.now
	return q, wake, c
}

func enqueue(t *testing.T, q *Queue, key, jobType, payload string, runAt time.Time) *models.Job {
	t.Helper()
	job := &models.Job{IdempotencyKey: key, Type: jobType, Recipient: "c1", Payload: payload, RunAt: runAt}
	created, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func insertBooking(t *testing.T, db *database.DB, startsAt time.Time) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ServiceID:  "massage",
		CustomerID: "c1",
		Date:       startsAt.Format(models.DateLayout),
		Slot:       startsAt.Format(models.TimeLayout),
		StartsAt:   startsAt,
		AmountDue:  decimal.NewFromInt(80),
		Currency:   "THB",
	}
	require.NoError(t, db.CreateBookingWithLock(context.Background(), b))
	return b
}
