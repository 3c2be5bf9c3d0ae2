package payment

import (
	"context"
	"errors"
	"testing"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	intent, err := p.CreateIntent(ctx, models.IntentRequest{
		Amount:   decimal.RequireFromString("64.00"),
		Currency: "THB",
		Metadata: map[string]string{models.MetaBookingID: "b1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntentPending, intent.Status)
	assert.NotEmpty(t, intent.ClientHandle)
	assert.Equal(t, "b1", intent.BookingID())

	t.Run("RefundBeforeCapture", func(t *testing.T) {
		_, err := p.Refund(ctx, models.RefundRequest{IntentID: intent.ID, Amount: decimal.NewFromInt(1)})
		assert.Error(t, err)
	})

	t.Run("SucceedAndResolve", func(t *testing.T) {
		body, err := p.Succeed(intent.ID)
		require.NoError(t, err)

		ev, err := p.ResolveEvent(ctx, body)
		require.NoError(t, err)
		assert.Equal(t, models.EventPaymentSucceeded, ev.Type)
		assert.Equal(t, intent.ID, ev.IntentID)
		assert.Equal(t, "b1", ev.BookingID)

		got, err := p.RetrieveIntent(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.IntentSucceeded, got.Status)
	})

	t.Run("BookingIDFromIntentNotBody", func(t *testing.T) {
		ev, err := p.ResolveEvent(ctx, []byte(`{"id":"evt_x","type":"intent.succeeded","intent_id":"pi_unknown","booking_id":"b1"}`))
		require.NoError(t, err)
		assert.Empty(t, ev.BookingID)
	})

	t.Run("PartialRefunds", func(t *testing.T) {
		_, err := p.Refund(ctx, models.RefundRequest{IntentID: intent.ID, Amount: decimal.RequireFromString("40")})
		require.NoError(t, err)
		_, err = p.Refund(ctx, models.RefundRequest{IntentID: intent.ID, Amount: decimal.RequireFromString("30")})
		assert.Error(t, err)
		r, err := p.Refund(ctx, models.RefundRequest{IntentID: intent.ID, Amount: decimal.RequireFromString("24")})
		require.NoError(t, err)
		assert.True(t, r.Amount.Equal(decimal.NewFromInt(24)))
	})

	t.Run("Fail", func(t *testing.T) {
		other, err := p.CreateIntent(ctx, models.IntentRequest{Amount: decimal.NewFromInt(10), Currency: "THB"})
		require.NoError(t, err)
		body, err := p.Fail(other.ID, "insufficient_fund")
		require.NoError(t, err)
		ev, err := p.ResolveEvent(ctx, body)
		require.NoError(t, err)
		assert.Equal(t, models.EventPaymentFailed, ev.Type)
		assert.Equal(t, "insufficient_fund", ev.FailureReason)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := p.CreateIntent(ctx, models.IntentRequest{Amount: decimal.Zero})
		assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

		_, err = p.RetrieveIntent(ctx, "pi_missing")
		assert.True(t, errors.Is(err, ErrIntentNotFound))

		_, err = p.ResolveEvent(ctx, []byte("not json"))
		assert.True(t, errors.Is(err, domain.ErrInvalidPayload))

		_, err = p.Succeed("pi_missing")
		assert.Error(t, err)
	})
}

func TestMinorUnits(t *testing.T) {
	v, err := ToMinor(decimal.RequireFromString("64.005"))
	require.NoError(t, err)
	assert.Equal(t, int64(6401), v)

	_, err = ToMinor(decimal.NewFromInt(-1))
	assert.Error(t, err)

	assert.True(t, FromMinor(6400).Equal(decimal.RequireFromString("64.00")))
}
