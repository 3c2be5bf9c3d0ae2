package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		IncWebhookRejected()
		IncJobDead()
		SetQueueDepth(map[string]int{"pending": 3})
	})

	before := testutil.ToFloat64(bookings.WithLabelValues("created"))
	IncBooking("created")
	assert.Equal(t, before+1, testutil.ToFloat64(bookings.WithLabelValues("created")))

	IncPaymentEvent("payment.succeeded", "applied")
	assert.Equal(t, float64(1), testutil.ToFloat64(paymentEvents.WithLabelValues("payment.succeeded", "applied")))

	IncJob("booking_reminder", "sent")
	assert.Equal(t, float64(3), testutil.ToFloat64(jobQueueDepth.WithLabelValues("pending")))
}
