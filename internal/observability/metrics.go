package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campus_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_booking_transitions_total",
			Help: "Booking state transitions by target state",
		},
		[]string{"to"},
	)

	CapacityRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_booking_capacity_rejections_total",
			Help: "Booking submissions refused because the event was full",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_outbox_published_total",
			Help: "Outbox messages handed to the publisher",
		},
		[]string{"topic"},
	)

	OutboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_outbox_failures_total",
			Help: "Outbox publish attempts that failed",
		},
		[]string{"topic"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_outbox_lag_seconds",
			Help: "Age of the oldest message drained in the last relay pass",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_notification_failures_total",
			Help: "Ticket rendering or mail delivery failures",
		},
		[]string{"topic"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_rate_limit_exceeded_total",
			Help: "Requests refused by the rate limiter",
		},
		[]string{"scope"},
	)
)
