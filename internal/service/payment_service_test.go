package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zapis/internal/database"
	"zapis/internal/domain"
	"zapis/internal/events"
	"zapis/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createIntent(t *testing.T, env *testEnv, b *models.Booking, promo string) *models.IntentResult {
	t.Helper()
	res, err := env.payments.CreateIntent(context.Background(), domain.CreateIntentRequest{
		BookingID:   b.ID,
		RequesterID: b.CustomerID,
		PromoCode:   promo,
	})
	require.NoError(t, err)
	return res
}

func succeed(t *testing.T, env *testEnv, intentID string) []byte {
	t.Helper()
	raw, err := env.provider.Succeed(intentID)
	require.NoError(t, err)
	return raw
}

func auditCount(t *testing.T, env *testEnv, bookingID string) (distinct, received int) {
	t.Helper()
	err := env.db.QueryRowContext(context.Background(),
		`SELECT COUNT(*), COALESCE(SUM(received_count), 0) FROM payment_events WHERE booking_id = ?`,
		bookingID).Scan(&distinct, &received)
	require.NoError(t, err)
	return distinct, received
}

func TestLoyaltyCredit(t *testing.T) {
	assert.EqualValues(t, 6, LoyaltyCredit(d("64.00"), d("10")))
	assert.EqualValues(t, 8, LoyaltyCredit(d("80"), d("10")))
	assert.EqualValues(t, 0, LoyaltyCredit(d("9.99"), d("10")))
	assert.EqualValues(t, 0, LoyaltyCredit(d("100"), decimal.Zero))
}

func TestPaymentService_CreateIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")

	require.NoError(t, env.db.UpsertPromoCode(ctx, &models.PromoCode{
		Code: "TEN", DiscountType: models.DiscountFixed, Value: d("10"), IsActive: true,
	}))
	require.NoError(t, env.db.UpsertPromoCode(ctx, &models.PromoCode{
		Code: "OLD", DiscountType: models.DiscountFixed, Value: d("10"), IsActive: true,
		ValidUntil: env.clock.AddDate(0, 0, -1),
	}))

	t.Run("FullAmount", func(t *testing.T) {
		res := createIntent(t, env, b, "")
		assert.True(t, res.Amount.Equal(d("64")))
		assert.True(t, res.Discount.IsZero())
		assert.Equal(t, "THB", res.Currency)
		assert.NotEmpty(t, res.ClientHandle)

		intent, err := env.provider.RetrieveIntent(ctx, res.IntentID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, intent.BookingID())
		assert.Equal(t, "c1", intent.Metadata[models.MetaCustomerID])
		assert.Equal(t, "massage", intent.Metadata[models.MetaServiceID])

		got, err := env.db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, res.IntentID, got.PaymentReference)
	})

	t.Run("WithPromo", func(t *testing.T) {
		res := createIntent(t, env, b, "TEN")
		assert.True(t, res.Amount.Equal(d("54")))
		assert.True(t, res.Discount.Equal(d("10")))
	})

	t.Run("RejectedPromo", func(t *testing.T) {
		_, err := env.payments.CreateIntent(ctx, domain.CreateIntentRequest{BookingID: b.ID, PromoCode: "OLD"})
		assert.True(t, errors.Is(err, domain.ErrPromoRejected))
		assert.Contains(t, err.Error(), models.PromoReasonExpired)

		_, err = env.payments.CreateIntent(ctx, domain.CreateIntentRequest{BookingID: b.ID, PromoCode: "NOPE"})
		assert.True(t, errors.Is(err, domain.ErrPromoRejected))
	})

	t.Run("Amounts", func(t *testing.T) {
		for _, amount := range []string{"0", "-1", "64.01"} {
			_, err := env.payments.CreateIntent(ctx, domain.CreateIntentRequest{
				BookingID: b.ID,
				Amount:    decimal.NewNullDecimal(d(amount)),
			})
			assert.True(t, errors.Is(err, domain.ErrInvalidAmount), amount)
		}

		res, err := env.payments.CreateIntent(ctx, domain.CreateIntentRequest{
			BookingID: b.ID,
			Amount:    decimal.NewNullDecimal(d("20")),
		})
		require.NoError(t, err)
		assert.True(t, res.Amount.Equal(d("20")))
	})

	t.Run("NotOwner", func(t *testing.T) {
		_, err := env.payments.CreateIntent(ctx, domain.CreateIntentRequest{BookingID: b.ID, RequesterID: "c2"})
		assert.True(t, errors.Is(err, domain.ErrBookingNotFound))
	})

	t.Run("AlreadyPaid", func(t *testing.T) {
		res := createIntent(t, env, b, "")
		require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

		_, err := env.payments.CreateIntent(ctx, domain.CreateIntentRequest{BookingID: b.ID})
		assert.True(t, errors.Is(err, domain.ErrAlreadyPaid))
	})

	t.Run("Cancelled", func(t *testing.T) {
		c := createBooking(t, env, "c1", "2024-11-26", "14:00")
		_, err := env.bookings.Cancel(ctx, c.ID, "c1")
		require.NoError(t, err)
		_, err = env.payments.CreateIntent(ctx, domain.CreateIntentRequest{BookingID: c.ID})
		assert.True(t, errors.Is(err, domain.ErrInvalidState))
	})
}

func TestPaymentService_WebhookSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	raw := succeed(t, env, res.IntentID)

	require.NoError(t, env.payments.HandleWebhook(ctx, raw))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.True(t, env.events.has(events.EventBookingConfirmed))

	c, err := env.db.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 6, c.LoyaltyPoints)

	require.Len(t, env.jobs.ofType(models.JobPaymentReceipt), 1)
	reminders := env.jobs.ofType(models.JobBookingReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, time.Date(2024, 11, 23, 14, 0, 0, 0, time.UTC), reminders[0].RunAt)
	reviews := env.jobs.ofType(models.JobReviewRequest)
	require.Len(t, reviews, 1)
	assert.Equal(t, time.Date(2024, 11, 27, 14, 0, 0, 0, time.UTC), reviews[0].RunAt)

	// Redelivery changes nothing.
	require.NoError(t, env.payments.HandleWebhook(ctx, raw))
	c, err = env.db.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 6, c.LoyaltyPoints)
	assert.Len(t, env.jobs.ofType(models.JobPaymentReceipt), 1)
	assert.Len(t, env.jobs.ofType(models.JobBookingReminder), 1)

	again, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)

	distinct, received := auditCount(t, env, b.ID)
	assert.Equal(t, 1, distinct)
	assert.Equal(t, 2, received)
}

func TestPaymentService_WebhookUnknownBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.payments.HandleProviderEvent(ctx, &models.ProviderEvent{
		ID: "evt_1", Type: models.EventPaymentSucceeded, IntentID: "pi_x", BookingID: "ghost",
	})
	assert.True(t, errors.Is(err, domain.ErrBookingNotFound))

	err = env.payments.HandleWebhook(ctx, []byte(`{"id":"evt_2","type":"intent.succeeded","intent_id":"pi_unknown"}`))
	assert.True(t, errors.Is(err, domain.ErrBookingNotFound))
}

func TestPaymentService_WebhookPayloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")

	err := env.payments.HandleWebhook(ctx, []byte("not json"))
	assert.True(t, errors.Is(err, domain.ErrInvalidPayload))

	err = env.payments.HandleWebhook(ctx, []byte(`{"id":"evt_3","type":"intent.created","intent_id":"`+res.IntentID+`"}`))
	require.NoError(t, err)

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
}

func TestPaymentService_FailureThenRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")

	first := createIntent(t, env, b, "")
	raw, err := env.provider.Fail(first.IntentID, "card_declined")
	require.NoError(t, err)
	require.NoError(t, env.payments.HandleWebhook(ctx, raw))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.True(t, env.events.has(events.EventPaymentFailed))
	failed := env.jobs.ofType(models.JobPaymentFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "card_declined", decodePayload(t, failed[0]).Reason)

	second := createIntent(t, env, b, "")

	// A late failure of the superseded intent is stale.
	raw, err = env.provider.Fail(first.IntentID, "expired")
	require.NoError(t, err)
	require.NoError(t, env.payments.HandleWebhook(ctx, raw))
	got, err = env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
	assert.Len(t, env.jobs.ofType(models.JobPaymentFailed), 1)

	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, second.IntentID)))
	got, err = env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestPaymentService_FailureNeverUnpays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	err := env.payments.HandleProviderEvent(ctx, &models.ProviderEvent{
		ID: "evt_late", Type: models.EventPaymentFailed, IntentID: res.IntentID, BookingID: b.ID,
	})
	require.NoError(t, err)

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
}

func TestPaymentService_Confirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")

	_, err := env.payments.Confirm(ctx, b.ID, res.IntentID)
	assert.True(t, errors.Is(err, domain.ErrPaymentNotSucceeded))

	_, err = env.payments.Confirm(ctx, b.ID, "pi_other")
	assert.True(t, errors.Is(err, domain.ErrIntentMismatch))

	succeed(t, env, res.IntentID)
	got, err := env.payments.Confirm(ctx, b.ID, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)

	again, err := env.payments.Confirm(ctx, b.ID, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
}

func TestPaymentService_ConfirmRacesWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	raw := succeed(t, env, res.IntentID)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- env.payments.HandleWebhook(ctx, raw)
		}()
		go func() {
			defer wg.Done()
			_, err := env.payments.Confirm(ctx, b.ID, res.IntentID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	c, err := env.db.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 6, c.LoyaltyPoints)
	assert.Len(t, env.jobs.ofType(models.JobPaymentReceipt), 1)
	assert.Len(t, env.jobs.ofType(models.JobBookingReminder), 1)
}

func TestPaymentService_OrphanedSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	_, err := env.bookings.Cancel(ctx, b.ID, "c1")
	require.NoError(t, err)

	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
	assert.True(t, env.events.has(events.EventPaymentOrphaned))
	assert.Empty(t, env.jobs.ofType(models.JobPaymentReceipt))

	c, err := env.db.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, c.LoyaltyPoints)
}

func TestPaymentService_PastAppointmentSkipsFollowUps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-18", "15:00")
	res := createIntent(t, env, b, "")

	env.clock = time.Date(2024, 11, 18, 16, 0, 0, 0, time.UTC)
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	assert.Len(t, env.jobs.ofType(models.JobPaymentReceipt), 1)
	assert.Empty(t, env.jobs.ofType(models.JobBookingReminder))
	assert.Empty(t, env.jobs.ofType(models.JobReviewRequest))
}

func TestPaymentService_Refund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")

	_, err := env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "changed mind")
	assert.True(t, errors.Is(err, domain.ErrNotPaid))

	res := createIntent(t, env, b, "")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	_, err = env.payments.Refund(ctx, b.ID, decimal.NewNullDecimal(d("100")), "")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	got, err := env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.True(t, env.events.has(events.EventPaymentRefunded))
	assert.Len(t, env.jobs.ofType(models.JobCalendarCancel), 1)

	_, err = env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "again")
	assert.True(t, errors.Is(err, domain.ErrNotPaid))

	// Slot is released.
	createBooking(t, env, "c2", "2024-11-25", "14:00")
}

func TestPaymentService_ProviderErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	// Point the booking at an intent the provider never issued.
	_, err := env.db.ExecContext(ctx, `UPDATE bookings SET payment_reference = 'pi_lost' WHERE id = ?`, b.ID)
	require.NoError(t, err)

	_, err = env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "")
	assert.True(t, errors.Is(err, domain.ErrProvider))
	assert.Equal(t, domain.KindExternal, domain.KindOf(err))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
}

func TestPaymentService_RefundAfterPromo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.UpsertPromoCode(ctx, &models.PromoCode{
		Code: "TEN", DiscountType: models.DiscountFixed, Value: d("10"), IsActive: true,
	}))
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "TEN")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	paid, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, paid.ChargeAmount().Equal(d("54")))
	receipts := env.jobs.ofType(models.JobPaymentReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, "54.00", decodePayload(t, receipts[0]).Amount)

	_, err = env.payments.Refund(ctx, b.ID, decimal.NewNullDecimal(d("54.01")), "")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	got, err := env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	assert.True(t, env.provider.Refunded(res.IntentID).Equal(d("54")))
}

func TestPaymentService_ConcurrentRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.payments.Refund(ctx, b.ID, decimal.NewNullDecimal(d("30")), "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, domain.ErrNotPaid) || errors.Is(err, domain.ErrConcurrentModification) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
	assert.True(t, env.provider.Refunded(res.IntentID).Equal(d("30")))
}

func TestPaymentService_RefundWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	_, ok, err := env.locker.TryLock(ctx, "booking:"+b.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.payments.Refund(ctx, b.ID, decimal.NullDecimal{}, "")
	assert.True(t, errors.Is(err, domain.ErrConcurrentModification))
	assert.True(t, env.provider.Refunded(res.IntentID).IsZero())
}

// cancelBeforePaid cancels the booking right before the paid transition runs.
type cancelBeforePaid struct {
	*database.DB
}

func (r cancelBeforePaid) MarkPaid(ctx context.Context, id string, credit int64) (bool, error) {
	b, err := r.DB.GetBooking(ctx, id)
	if err != nil {
		return false, err
	}
	if err := r.DB.UpdateBookingStatusWithVersion(ctx, id, b.Version, models.StatusCancelled); err != nil {
		return false, err
	}
	return r.DB.MarkPaid(ctx, id, credit)
}

func TestPaymentService_CancelRacesSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := createBooking(t, env, "c1", "2024-11-25", "14:00")
	res := createIntent(t, env, b, "")
	env.payments.repo = cancelBeforePaid{DB: env.db}

	require.NoError(t, env.payments.HandleWebhook(ctx, succeed(t, env, res.IntentID)))

	got, err := env.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
	assert.True(t, env.events.has(events.EventPaymentOrphaned))
	assert.Empty(t, env.jobs.ofType(models.JobPaymentReceipt))

	var outcome string
	require.NoError(t, env.db.QueryRowContext(ctx,
		`SELECT outcome FROM payment_events WHERE booking_id = ?`, b.ID).Scan(&outcome))
	assert.Equal(t, OutcomeOrphaned, outcome)
}
