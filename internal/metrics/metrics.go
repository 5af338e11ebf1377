// Package metrics exposes Prometheus collectors for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Remote commands dispatched, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	rollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "optimistic",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back after a definite failure.",
		},
	)

	unconfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "optimistic",
			Name:      "unconfirmed_total",
			Help:      "Optimistic mutations left unconfirmed after an ambiguous failure.",
		},
	)

	pollTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "poll",
			Name:      "timeouts_total",
			Help:      "Bounded polls that exhausted their attempt budget.",
		},
	)

	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change notification events received, by table and type.",
		},
		[]string{"table", "type"},
	)

	refetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "realtime",
			Name:      "refetches_total",
			Help:      "Derived view refetches triggered by invalidation.",
		},
		[]string{"view"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sync_core",
			Subsystem: "notify",
			Name:      "outbound_total",
			Help:      "Outbound user notifications, by delivery status.",
		},
		[]string{"status"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sync_core",
			Subsystem: "dispatch",
			Name:      "command_duration_seconds",
			Help:      "Duration of remote command round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		commandsTotal,
		rollbacksTotal,
		unconfirmedTotal,
		pollTimeoutsTotal,
		realtimeEventsTotal,
		refetchesTotal,
		notificationsTotal,
		commandDuration,
	)
}

// ObserveCommand records a completed dispatch with its outcome label
// ("confirmed", "failed" or "ambiguous") and duration in seconds.
func ObserveCommand(kind, outcome string, seconds float64) {
	commandsTotal.WithLabelValues(kind, outcome).Inc()
	commandDuration.WithLabelValues(kind).Observe(seconds)
}

// IncRollback counts an optimistic rollback.
func IncRollback() { rollbacksTotal.Inc() }

// IncUnconfirmed counts an entity left unconfirmed.
func IncUnconfirmed() { unconfirmedTotal.Inc() }

// IncPollTimeout counts a poll budget exhaustion.
func IncPollTimeout() { pollTimeoutsTotal.Inc() }

// IncRealtimeEvent counts a received change notification.
func IncRealtimeEvent(table, eventType string) {
	realtimeEventsTotal.WithLabelValues(table, eventType).Inc()
}

// IncRefetch counts a view refetch.
func IncRefetch(view string) { refetchesTotal.WithLabelValues(view).Inc() }

// IncNotification counts an outbound notification attempt.
func IncNotification(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	notificationsTotal.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
