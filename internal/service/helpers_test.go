package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"zapis/internal/config"
	"zapis/internal/database"
	"zapis/internal/events"
	"zapis/internal/models"
	"zapis/internal/payment"
	"zapis/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// jobRecorder enqueues into the real job table and remembers created keys.
type jobRecorder struct {
	db   *database.DB
	mu   sync.Mutex
	jobs []*models.Job
}

func (r *jobRecorder) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	created, err := r.db.CreateJob(ctx, job)
	if err != nil || !created {
		return created, err
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	return true, nil
}

func (r *jobRecorder) ofType(jobType string) []*models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, j := range r.jobs {
		if j.Type == jobType {
			out = append(out, j)
		}
	}
	return out
}

type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) handle(e *events.Event) error {
	r.mu.Lock()
	r.types = append(r.types, e.Type)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	db            *database.DB
	clock         time.Time
	grid          *Grid
	locker        *repository.MemoryLocker
	jobs          *jobRecorder
	events        *eventRecorder
	provider      *payment.MemoryProvider
	slots         *AvailabilityService
	notifications *NotificationService
	bookings      *BookingService
	promos        *PromoService
	payments      *PaymentService
}

func (e *testEnv) now() time.Time { return e.clock }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	grid, err := NewGrid(config.CalendarConfig{Timezone: "UTC", Open: "09:00", Close: "18:00", SlotMinutes: 30})
	require.NoError(t, err)

	require.NoError(t, db.UpsertService(ctx, &models.Service{
		ID:              "massage",
		Name:            "Massage",
		DurationMinutes: 60,
		Price:           decimal.RequireFromString("80.00"),
		PromoPrice:      decimal.NewNullDecimal(decimal.RequireFromString("64.00")),
		Currency:        "THB",
		IsActive:        true,
	}))
	require.NoError(t, db.UpsertService(ctx, &models.Service{
		ID: "retired", Name: "Retired", DurationMinutes: 30, Price: decimal.NewFromInt(10), Currency: "THB",
	}))

	env := &testEnv{
		db:       db,
		clock:    time.Date(2024, 11, 18, 12, 0, 0, 0, time.UTC),
		grid:     grid,
		locker:   repository.NewMemoryLocker(),
		events:   &eventRecorder{},
		provider: payment.NewMemoryProvider(),
	}
	env.jobs = &jobRecorder{db: db}

	bus := events.NewEventBus(nil)
	bus.Subscribe(events.AllEvents, env.events.handle)

	env.notifications = NewNotificationService(env.jobs, 48*time.Hour, 48*time.Hour, &logger)
	env.notifications.now = env.now
	env.slots = NewAvailabilityService(db, db, grid)
	env.slots.now = env.now
	env.bookings = NewBookingService(db, db, db, env.slots, env.locker, env.notifications, bus, BookingPolicy{}, &logger)
	env.bookings.now = env.now
	env.promos = NewPromoService(db)
	env.promos.now = env.now
	env.payments = NewPaymentService(db, env.promos, env.provider, db, env.notifications, bus, env.locker, decimal.NewFromInt(10), &logger)
	env.payments.now = env.now
	return env
}

func customer(id string) models.Customer {
	return models.Customer{ID: id, Name: "Customer " + id, Email: id + "@example.com"}
}

func decodePayload(t *testing.T, job *models.Job) models.NotificationPayload {
	t.Helper()
	var p models.NotificationPayload
	require.NoError(t, json.Unmarshal([]byte(job.Payload), &p))
	return p
}
