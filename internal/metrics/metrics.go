package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zapis"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking operations by result.",
		},
		[]string{"result"},
	)

	paymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Provider events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	webhookRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejected_total",
			Help:      "Webhook deliveries rejected at signature verification.",
		},
	)

	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processed jobs by type and result.",
		},
		[]string{"type", "result"},
	)

	jobsDead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_total",
			Help:      "Jobs moved to the failed set after exhausting retries.",
		},
	)

	jobQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queue_depth",
			Help:      "Jobs in the durable queue by status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookings, paymentEvents, webhookRejected, jobs, jobsDead, jobQueueDepth)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncPaymentEvent(eventType, outcome string) {
	paymentEvents.WithLabelValues(eventType, outcome).Inc()
}

func IncWebhookRejected() {
	webhookRejected.Inc()
}

func IncJob(jobType, result string) {
	jobs.WithLabelValues(jobType, result).Inc()
}

func IncJobDead() {
	jobsDead.Inc()
}

func SetQueueDepth(counts map[string]int) {
	for status, n := range counts {
		jobQueueDepth.WithLabelValues(status).Set(float64(n))
	}
}
