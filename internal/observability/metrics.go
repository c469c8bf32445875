package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	sessionsAggregated *prometheus.CounterVec
	sessionsDiscarded  prometheus.Counter
	pendingBuckets     prometheus.Gauge

	flushTotal    *prometheus.CounterVec
	flushPayloads prometheus.Histogram

	deliveryTotal    *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	sessionsDropped  *prometheus.CounterVec
	transportRetries *prometheus.CounterVec

	intakeRequests *prometheus.CounterVec
	intakeRecords  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionsAggregated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_sessions_aggregated_total",
					Help: "Sessions folded into aggregation buckets by outcome.",
				},
				[]string{"outcome"},
			),
			sessionsDiscarded: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pulse_sessions_discarded_total",
					Help: "Sessions ignored because the flusher is disabled.",
				},
			),
			pendingBuckets: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pulse_pending_buckets",
					Help: "Aggregation buckets waiting for the next flush.",
				},
			),
			flushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_flush_total",
					Help: "Flush attempts by result (dispatched, empty, unsupported).",
				},
				[]string{"result"},
			),
			flushPayloads: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pulse_flush_payloads",
					Help:    "Payloads produced per dispatched flush.",
					Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
				},
			),
			deliveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_delivery_total",
					Help: "Payload deliveries by transport, kind and status.",
				},
				[]string{"transport", "kind", "status"},
			),
			deliveryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pulse_delivery_duration_seconds",
					Help:    "Payload delivery duration in seconds by transport.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"transport"},
			),
			sessionsDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_sessions_dropped_total",
					Help: "Sessions lost because their payload could not be delivered.",
				},
				[]string{"transport"},
			),
			transportRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_transport_retries_total",
					Help: "Delivery retries performed by transports.",
				},
				[]string{"transport"},
			),
			intakeRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_intake_requests_total",
					Help: "Session intake requests by response code.",
				},
				[]string{"code"},
			),
			intakeRecords: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_intake_records_total",
					Help: "Session intake records by result (accepted, skipped).",
				},
				[]string{"result"},
			),
		}

		prometheus.MustRegister(
			m.sessionsAggregated,
			m.sessionsDiscarded,
			m.pendingBuckets,
			m.flushTotal,
			m.flushPayloads,
			m.deliveryTotal,
			m.deliveryDuration,
			m.sessionsDropped,
			m.transportRetries,
			m.intakeRequests,
			m.intakeRecords,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSessionAggregated(outcome string, pending int) {
	m := getMetrics()
	m.sessionsAggregated.WithLabelValues(outcome).Inc()
	m.pendingBuckets.Set(float64(pending))
}

func RecordSessionDiscarded() {
	getMetrics().sessionsDiscarded.Inc()
}

func SetPendingBuckets(pending int) {
	getMetrics().pendingBuckets.Set(float64(pending))
}

func RecordFlush(result string, payloads int) {
	m := getMetrics()
	m.flushTotal.WithLabelValues(result).Inc()
	if payloads > 0 {
		m.flushPayloads.Observe(float64(payloads))
	}
}

func RecordDelivery(transport, kind string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.deliveryTotal.WithLabelValues(transport, kind, status).Inc()
	m.deliveryDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

func RecordSessionsDropped(transport string, count int) {
	getMetrics().sessionsDropped.WithLabelValues(transport).Add(float64(count))
}

func RecordTransportRetry(transport string) {
	getMetrics().transportRetries.WithLabelValues(transport).Inc()
}

func RecordIntakeRequest(code, accepted, skipped int) {
	m := getMetrics()
	m.intakeRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	if accepted > 0 {
		m.intakeRecords.WithLabelValues("accepted").Add(float64(accepted))
	}
	if skipped > 0 {
		m.intakeRecords.WithLabelValues("skipped").Add(float64(skipped))
	}
}
