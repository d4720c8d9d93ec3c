package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consult"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created as pending holds.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_total",
			Help:      "Count of booking status changes by target status.",
		},
		[]string{"status"},
	)

	bookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflict_total",
			Help:      "Count of rejected booking ranges by operation.",
		},
		[]string{"operation"},
	)

	webhookOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed gateway callbacks by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of outbound payment gateway calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "operation", "result"},
	)

	notificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_dropped_total",
			Help:      "Count of notifications dropped because the queue was full.",
		},
		[]string{"kind"},
	)

	notificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sink_failure_total",
			Help:      "Count of failed notification deliveries by sink.",
		},
		[]string{"sink"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingTransitions,
			bookingConflicts,
			webhookOutcomes,
			gatewayLatency,
			notificationsDropped,
			notificationFailures,
		)
	})
}

func IncBookingCreated() {
	bookingCreated.Inc()
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncBookingConflict(operation string) {
	bookingConflicts.WithLabelValues(operation).Inc()
}

func IncWebhook(method, outcome string) {
	webhookOutcomes.WithLabelValues(method, outcome).Inc()
}

func ObserveGateway(method, operation string, err error, started time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayLatency.WithLabelValues(method, operation, result).Observe(time.Since(started).Seconds())
}

func IncNotificationDropped(kind string) {
	notificationsDropped.WithLabelValues(kind).Inc()
}

func IncNotificationFailure(sink string) {
	notificationFailures.WithLabelValues(sink).Inc()
}
