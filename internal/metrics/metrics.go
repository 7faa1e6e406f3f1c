package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_events_created_total",
		Help: "Total number of events persisted as pending.",
	})

	CreateRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_create_rejected_total",
		Help: "Total number of create requests rejected by validation.",
	})

	EventsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_events_claimed_total",
		Help: "Total number of events claimed for delivery, labelled by operation.",
	}, []string{"op"})

	EventsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_events_resolved_total",
		Help: "Total number of claimed events resolved, labelled by operation and outcome.",
	}, []string{"op", "outcome"})

	StaleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventrelay_stale_recovered_total",
		Help: "Total number of abandoned in_flight events handed back to the retry path.",
	})

	RemoteDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_remote_deletes_total",
		Help: "Total number of remote delete calls, labelled by status.",
	}, []string{"status"})

	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventrelay_forward_duration_ms",
		Help:    "Remote sink batch forward latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"op"})

	EventsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventrelay_events",
		Help: "Current number of events per delivery state.",
	}, []string{"state"})

	CaptureDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_capture_dropped_total",
		Help: "Total number of client-side events dropped before reaching the server, labelled by reason.",
	}, []string{"reason"})

	HookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_hook_notifications_total",
		Help: "Total number of observability hook notifications, labelled by kind and status.",
	}, []string{"kind", "status"})

	PoolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventrelay_pool_utilization_ratio",
		Help: "Current dispatch queue utilization (0-1), labelled by pool.",
	}, []string{"pool"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventrelay_circuit_breaker_open",
		Help: "1 when the named circuit breaker is open or half-open, 0 when closed.",
	}, []string{"name"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrelay_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips, labelled by name and reason.",
	}, []string{"name", "reason"})
)
