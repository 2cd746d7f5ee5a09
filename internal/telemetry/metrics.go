package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tacops",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// Realtime gateway (C5).
var (
	RealtimeConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tacops",
			Subsystem: "realtime",
			Name:      "connections_active",
			Help:      "Number of currently connected realtime gateway clients.",
		},
	)

	RealtimeRoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tacops",
			Subsystem: "realtime",
			Name:      "rooms_active",
			Help:      "Number of teams with at least one connected client.",
		},
	)

	RealtimeMessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tacops",
			Subsystem: "realtime",
			Name:      "messages_dropped_total",
			Help:      "Total number of outbound messages dropped due to a full connection buffer.",
		},
		[]string{"event"},
	)
)

// Threat pipeline (C6).
var (
	ThreatsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tacops",
			Subsystem: "threat",
			Name:      "detected_total",
			Help:      "Total number of threats detected by decision outcome.",
		},
		[]string{"decision"},
	)

	ThreatSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tacops",
			Subsystem: "threat",
			Name:      "search_duration_seconds",
			Help:      "Duration of a single threat-pipeline search tick, by stage.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"stage"},
	)

	ThreatDedupDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tacops",
			Subsystem: "threat",
			Name:      "dedup_decisions_total",
			Help:      "Total number of deduplication ladder decisions by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	RunLogsTrimmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tacops",
			Subsystem: "threat",
			Name:      "run_logs_trimmed_total",
			Help:      "Total number of run-log rows removed by retention trimming.",
		},
	)
)

// Monitor supervisor (C7).
var (
	MonitorsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tacops",
			Subsystem: "supervisor",
			Name:      "monitors_active",
			Help:      "Number of monitors currently scheduled.",
		},
	)

	MonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tacops",
			Subsystem: "supervisor",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a single monitor tick, from acquiring a concurrency slot until the tick returns.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		},
	)

	ConcurrencyGateSaturatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tacops",
			Subsystem: "supervisor",
			Name:      "concurrency_gate_saturated_total",
			Help:      "Total number of monitor ticks skipped because every concurrency slot was taken.",
		},
	)
)

// Admin notification fan-out (C8).
var SlackNotificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tacops",
		Subsystem: "slack",
		Name:      "notifications_total",
		Help:      "Total number of Slack admin notifications sent, by outcome.",
	},
	[]string{"outcome"},
)

// All returns all TACOPS-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RealtimeConnectionsActive,
		RealtimeRoomsActive,
		RealtimeMessagesDroppedTotal,
		ThreatsDetectedTotal,
		ThreatSearchDuration,
		ThreatDedupDecisionsTotal,
		RunLogsTrimmedTotal,
		MonitorsActive,
		MonitorTickDuration,
		ConcurrencyGateSaturatedTotal,
		SlackNotificationsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTP request duration histogram, and all TACOPS-specific
// collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
