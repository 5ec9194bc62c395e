package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_bookings_total",
		Help: "Booking attempts by result.",
	}, []string{"result"})

	BookingStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_booking_status_changes_total",
		Help: "Booking status transitions by target status.",
	}, []string{"status"})

	NoShowsMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_noshows_marked_total",
		Help: "Bookings swept to no_show after their block ended.",
	})

	QueueCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_queue_commands_total",
		Help: "Queue commands by action and outcome.",
	}, []string{"action", "outcome"})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinic_lock_wait_seconds",
		Help:    "Time spent acquiring distributed locks.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
	})

	GatewaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinic_gateway_subscribers",
		Help: "Currently joined real-time subscribers.",
	})

	GatewayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_gateway_dropped_events_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
