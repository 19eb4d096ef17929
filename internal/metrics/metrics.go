package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	seatOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airreserve_seat_operations_total",
			Help: "Seat inventory reserve/release calls by cabin and outcome",
		},
		[]string{"operation", "cabin", "outcome"},
	)

	bookingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airreserve_bookings_total",
			Help: "Booking lifecycle events",
		},
		[]string{"event"},
	)

	paymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airreserve_payments_total",
			Help: "Payment lifecycle events",
		},
		[]string{"event"},
	)

	lockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airreserve_lock_wait_seconds",
			Help:    "Time spent acquiring keyed locks",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"driver"},
	)

	lockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airreserve_lock_contention_total",
			Help: "Lock acquisitions that gave up after exhausting their wait budget",
		},
		[]string{"driver"},
	)

	reclaimerRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airreserve_reclaimer_runs_total",
			Help: "Completed expiration sweeps",
		},
	)

	reclaimerBookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airreserve_reclaimer_bookings_total",
			Help: "Bookings handled by the expiration sweep by result",
		},
		[]string{"result"},
	)

	reclaimerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airreserve_reclaimer_duration_seconds",
			Help:    "Duration of one expiration sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func SeatOperation(operation, cabin, outcome string) {
	seatOperations.WithLabelValues(operation, cabin, outcome).Inc()
}

func BookingEvent(event string) {
	bookingEvents.WithLabelValues(event).Inc()
}

func PaymentEvent(event string) {
	paymentEvents.WithLabelValues(event).Inc()
}

func LockAcquired(driver string, waited time.Duration) {
	lockWait.WithLabelValues(driver).Observe(waited.Seconds())
}

func LockContended(driver string) {
	lockContention.WithLabelValues(driver).Inc()
}

func ReclaimerRun(duration time.Duration, expired, skipped, failed int) {
	reclaimerRuns.Inc()
	reclaimerDuration.Observe(duration.Seconds())
	reclaimerBookings.WithLabelValues("expired").Add(float64(expired))
	reclaimerBookings.WithLabelValues("skipped").Add(float64(skipped))
	reclaimerBookings.WithLabelValues("failed").Add(float64(failed))
}
