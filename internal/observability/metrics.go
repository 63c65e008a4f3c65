// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Session metrics
	SessionState    *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec
	PendingRequests prometheus.Gauge
	InboundMessages *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	SessionErrors   *prometheus.CounterVec
	TicksReceived   *prometheus.CounterVec
	DuplicateTicks  prometheus.Counter
	AccountBalance  prometheus.Gauge

	// Trading metrics
	TradesTotal       *prometheus.CounterVec
	StakeAmount       prometheus.Histogram
	ConsecutiveLosses prometheus.Gauge
	SessionProfit     prometheus.Gauge
	InFlightTrades    prometheus.Gauge
	StrategySwitches  *prometheus.CounterVec

	// Settlement metrics
	ReconcileChecks   *prometheus.CounterVec
	ForcedResolutions prometheus.Counter
	SettlementLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastTickTimestamp   prometheus.Gauge
	LastReportTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "digit_trader"
	}

	return &Metrics{
		// Session metrics
		SessionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by result",
		}, []string{"result"}),
		PendingRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply",
		}),
		InboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by msg_type",
		}, []string{"msg_type"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "request_latency_seconds",
			Help:      "Request round-trip latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"msg_type"}),
		SessionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Error envelopes received by code",
		}, []string{"code"}),
		TicksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticks",
			Name:      "received_total",
			Help:      "Accepted ticks by market",
		}, []string{"market"}),
		DuplicateTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticks",
			Name:      "duplicates_total",
			Help:      "Ticks dropped because their epoch was not newer",
		}),
		AccountBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "balance",
			Help:      "Last reported account balance",
		}),

		// Trading metrics
		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Trades reaching a terminal status by strategy and status",
		}, []string{"strategy", "status"}),
		StakeAmount: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "stake_amount",
			Help:      "Stake of submitted trades",
			Buckets:   []float64{0.35, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
		ConsecutiveLosses: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "consecutive_losses",
			Help:      "Current consecutive loss count",
		}),
		SessionProfit: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "session_profit",
			Help:      "Cumulative profit of the current session",
		}),
		InFlightTrades: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "in_flight_trades",
			Help:      "Trades submitted and not yet terminal",
		}),
		StrategySwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "strategy_switches_total",
			Help:      "Strategy switches by target strategy",
		}, []string{"to"}),

		// Settlement metrics
		ReconcileChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "checks_total",
			Help:      "Settlement checks by method and result",
		}, []string{"method", "result"}),
		ForcedResolutions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "forced_resolutions_total",
			Help:      "Trades forced to an assumed loss after exhausting all checks",
		}),
		SettlementLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "Time from purchase to terminal status",
			Buckets:   []float64{1, 2, 3, 5, 10, 30, 60, 120, 180, 195},
		}, []string{"source"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastTickTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last accepted tick",
		}),
		LastReportTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_report_timestamp",
			Help:      "Unix timestamp of the last scheduled report",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

var sessionStates = []string{"disconnected", "connecting", "connected", "authorized", "unauthorized", "error"}

// SetSessionState marks state as the current session state.
func SetSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		DefaultMetrics.SessionState.WithLabelValues(s).Set(v)
	}
}

// RecordReconnect records a reconnect attempt.
func RecordReconnect(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	DefaultMetrics.Reconnects.WithLabelValues(result).Inc()
}

// UpdatePendingRequests sets the pending request gauge.
func UpdatePendingRequests(n int) {
	DefaultMetrics.PendingRequests.Set(float64(n))
}

// RecordInbound counts one inbound message.
func RecordInbound(msgType string) {
	DefaultMetrics.InboundMessages.WithLabelValues(msgType).Inc()
}

// RecordRequestLatency records a request round trip.
func RecordRequestLatency(msgType string, seconds float64) {
	DefaultMetrics.RequestLatency.WithLabelValues(msgType).Observe(seconds)
}

// RecordAPIError counts an error envelope.
func RecordAPIError(code string) {
	DefaultMetrics.SessionErrors.WithLabelValues(code).Inc()
}

// RecordTick counts an accepted tick.
func RecordTick(market string, epoch int64) {
	DefaultMetrics.TicksReceived.WithLabelValues(market).Inc()
	DefaultMetrics.LastTickTimestamp.Set(float64(epoch))
}

// RecordDuplicateTick counts a dropped duplicate tick.
func RecordDuplicateTick() {
	DefaultMetrics.DuplicateTicks.Inc()
}

// UpdateBalance sets the account balance gauge.
func UpdateBalance(balance float64) {
	DefaultMetrics.AccountBalance.Set(balance)
}

// RecordTradeSubmitted records the stake of a submitted trade.
func RecordTradeSubmitted(stake float64) {
	DefaultMetrics.StakeAmount.Observe(stake)
}

// RecordTradeTerminal counts a trade reaching a terminal status.
func RecordTradeTerminal(strategy, status string) {
	DefaultMetrics.TradesTotal.WithLabelValues(strategy, status).Inc()
}

// UpdateRiskState sets the loss streak and profit gauges.
func UpdateRiskState(consecutiveLosses int, profit float64) {
	DefaultMetrics.ConsecutiveLosses.Set(float64(consecutiveLosses))
	DefaultMetrics.SessionProfit.Set(profit)
}

// UpdateInFlight sets the in-flight trade gauge.
func UpdateInFlight(n int) {
	DefaultMetrics.InFlightTrades.Set(float64(n))
}

// RecordSwitch counts a strategy switch.
func RecordSwitch(to string) {
	DefaultMetrics.StrategySwitches.WithLabelValues(to).Inc()
}

// RecordReconcileCheck counts one settlement check.
func RecordReconcileCheck(method, result string) {
	DefaultMetrics.ReconcileChecks.WithLabelValues(method, result).Inc()
}

// RecordForcedResolution counts a forced settlement.
func RecordForcedResolution() {
	DefaultMetrics.ForcedResolutions.Inc()
}

// RecordSettlement records purchase-to-terminal latency.
func RecordSettlement(source string, seconds float64) {
	DefaultMetrics.SettlementLatency.WithLabelValues(source).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordReport marks a completed scheduled report.
func RecordReport(unix int64) {
	DefaultMetrics.LastReportTimestamp.Set(float64(unix))
}
