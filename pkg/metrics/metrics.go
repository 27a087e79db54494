package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by outcome (success|failure|pending).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchdesk_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allowed|denied).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchdesk_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// ActiveSessions tracks live session records.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "branchdesk_active_sessions",
			Help: "Number of live sessions",
		},
	)

	// SessionRefreshes counts propagation sweeps by outcome (refreshed|orphaned|failed).
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchdesk_session_refreshes_total",
			Help: "Session snapshot refreshes performed by the propagation service",
		},
		[]string{"result"},
	)

	// NotificationsSent counts outbound notification deliveries by kind and outcome.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchdesk_notifications_total",
			Help: "Outbound notification deliveries",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branchdesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
