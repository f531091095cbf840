// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the supervisor.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	LastCycleAt   prometheus.Gauge

	// Detection metrics
	ViolationWindowsOpened   *prometheus.CounterVec
	ViolationWindowsExtended *prometheus.CounterVec
	DuplicateTradesFlagged   prometheus.Counter
	BotHealthStatus          *prometheus.GaugeVec

	// Action metrics
	ActionsProposed *prometheus.CounterVec
	ActionsResolved *prometheus.CounterVec
	ActionsExecuted *prometheus.CounterVec
	PendingActions  prometheus.Gauge

	// Budget metrics
	BudgetDenials  prometheus.Counter
	DailySpend     prometheus.Gauge
	DailyCalls     prometheus.Gauge
	MonthlySpend   prometheus.Gauge
	AnalystLatency prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "botguard"
	}

	return &Metrics{
		// Cycle metrics
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of supervision cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Supervision cycle duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		LastCycleAt: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last completed cycle",
		}),

		// Detection metrics
		ViolationWindowsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "violations",
			Name:      "windows_opened_total",
			Help:      "Total number of drift windows opened by parameter",
		}, []string{"parameter"}),
		ViolationWindowsExtended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "violations",
			Name:      "windows_extended_total",
			Help:      "Total number of drift window extensions by parameter",
		}, []string{"parameter"}),
		DuplicateTradesFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "violations",
			Name:      "duplicate_trades_flagged_total",
			Help:      "Total number of duplicate trade executions flagged",
		}),
		BotHealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "bot_status",
			Help:      "Per-bot health status (1 for the active status label)",
		}, []string{"bot", "status"}),

		// Action metrics
		ActionsProposed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "proposed_total",
			Help:      "Total number of actions proposed by kind and tier",
		}, []string{"kind", "tier"}),
		ActionsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "resolved_total",
			Help:      "Total number of actions resolved by status",
		}, []string{"status"}),
		ActionsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "executed_total",
			Help:      "Total number of action executions by kind and outcome",
		}, []string{"kind", "outcome"}),
		PendingActions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "pending",
			Help:      "Current number of actions awaiting approval",
		}),

		// Budget metrics
		BudgetDenials: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "denials_total",
			Help:      "Total number of calls denied by the budget guard",
		}),
		DailySpend: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "daily_spend_dollars",
			Help:      "Cost accumulated in the current daily window",
		}),
		DailyCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "daily_calls",
			Help:      "Calls made in the current daily window",
		}),
		MonthlySpend: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "monthly_spend_dollars",
			Help:      "Cost accumulated in the current monthly window",
		}),
		AnalystLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "analyst_call_latency_seconds",
			Help:      "External analyst call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
