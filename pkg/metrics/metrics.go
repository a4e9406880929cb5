package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|unverified).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions approximates live sessions: incremented on create,
	// decremented on logout and sweep.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookshelf_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionValidations counts gate decisions (valid|missing|expired|error).
	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_session_validations_total",
			Help: "Total number of session validations by outcome",
		},
		[]string{"result"},
	)

	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookshelf_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookshelf_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
