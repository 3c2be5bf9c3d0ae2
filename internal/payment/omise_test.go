package payment

import (
	"testing"

	"zapis/internal/models"

	"github.com/omise/omise-go"
	"github.com/stretchr/testify/assert"
)

func TestChargeEvent(t *testing.T) {
	code, msg := "insufficient_fund", "not enough money"

	t.Run("Successful", func(t *testing.T) {
		ch := &omise.Charge{Amount: 6400, Currency: "thb", Status: omiseChargeSuccessful,
			Metadata: map[string]interface{}{"booking_id": "b1", "attempt": 2}}
		ch.ID = "chrg_1"

		ev := chargeEvent("evnt_1", ch)
		assert.Equal(t, models.EventPaymentSucceeded, ev.Type)
		assert.Equal(t, "b1", ev.BookingID)
		assert.Equal(t, "chrg_1", ev.IntentID)

		intent := chargeToIntent(ch)
		assert.Equal(t, "THB", intent.Currency)
		assert.Equal(t, "64", intent.Amount.String())
		assert.NotContains(t, intent.Metadata, "attempt")
	})

	t.Run("Failed", func(t *testing.T) {
		ch := &omise.Charge{Status: omiseChargeFailed, FailureCode: &code, FailureMessage: &msg}
		ev := chargeEvent("evnt_2", ch)
		assert.Equal(t, models.EventPaymentFailed, ev.Type)
		assert.Equal(t, "insufficient_fund not enough money", ev.FailureReason)
		assert.Empty(t, ev.BookingID)
	})

	t.Run("Pending", func(t *testing.T) {
		ev := chargeEvent("evnt_3", &omise.Charge{Status: "pending"})
		assert.Equal(t, "charge.complete.pending", ev.Type)
	})
}
