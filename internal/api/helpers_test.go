package api

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"zapis/internal/config"
	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

const customerHeader = "X-Customer-ID"

type mockSlots struct{ mock.Mock }

func (m *mockSlots) AvailableSlots(ctx context.Context, serviceID, date string) ([]models.Slot, error) {
	args := m.Called(ctx, serviceID, date)
	slots, _ := args.Get(0).([]models.Slot)
	return slots, args.Error(1)
}

type mockPromo struct{ mock.Mock }

func (m *mockPromo) Validate(ctx context.Context, code string, amount decimal.Decimal) (*models.PromoResult, error) {
	args := m.Called(ctx, code, amount)
	res, _ := args.Get(0).(*models.PromoResult)
	return res, args.Error(1)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) Create(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Cancel(ctx context.Context, bookingID, requesterID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, requesterID)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Reschedule(ctx context.Context, bookingID, requesterID, newDate, newTime string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, requesterID, newDate, newTime)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) ListForUser(ctx context.Context, customerID string) ([]*models.Booking, error) {
	args := m.Called(ctx, customerID)
	bs, _ := args.Get(0).([]*models.Booking)
	return bs, args.Error(1)
}

func (m *mockBookings) NextUpcoming(ctx context.Context, customerID string) (*models.Booking, error) {
	args := m.Called(ctx, customerID)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*models.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*models.IntentResult)
	return res, args.Error(1)
}

func (m *mockPayments) Confirm(ctx context.Context, bookingID, intentID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, intentID)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, raw []byte) error {
	return m.Called(ctx, raw).Error(0)
}

func (m *mockPayments) Refund(ctx context.Context, bookingID string, amount decimal.NullDecimal, reason string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, amount, reason)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

type mockJobs struct{ mock.Mock }

func (m *mockJobs) FailedJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	args := m.Called(ctx, limit)
	jobs, _ := args.Get(0).([]*models.Job)
	return jobs, args.Error(1)
}

func (m *mockJobs) Requeue(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type testServer struct {
	srv      *HTTPServer
	slots    *mockSlots
	promo    *mockPromo
	bookings *mockBookings
	payments *mockPayments
	jobs     *mockJobs
}

func openAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		JWT:     config.APIJWTConfig{CustomerHeader: customerHeader},
	}
}

func newTestServer(t *testing.T, cfg config.APIConfig, mutate ...func(*Services)) *testServer {
	t.Helper()
	ts := &testServer{
		slots:    &mockSlots{},
		promo:    &mockPromo{},
		bookings: &mockBookings{},
		payments: &mockPayments{},
		jobs:     &mockJobs{},
	}
	svc := Services{
		Slots:    ts.slots,
		Promo:    ts.promo,
		Bookings: ts.bookings,
		Payments: ts.payments,
		Jobs:     ts.jobs,
	}
	for _, m := range mutate {
		m(&svc)
	}
	ts.srv = NewHTTPServer(cfg, svc, nil)
	t.Cleanup(func() {
		ts.slots.AssertExpectations(t)
		ts.promo.AssertExpectations(t)
		ts.bookings.AssertExpectations(t)
		ts.payments.AssertExpectations(t)
		ts.jobs.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func asCustomer(id string) map[string]string {
	return map[string]string{customerHeader: id}
}

