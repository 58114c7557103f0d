package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	evictionsTotal *prometheus.CounterVec

	streamEditsTotal      *prometheus.CounterVec
	streamFallbacksTotal  prometheus.Counter
	messagesSentTotal     prometheus.Counter
	messagesReceivedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			taskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "task_total",
					Help: "Total finished tasks by outcome.",
				},
				[]string{"outcome"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "End-to-end task duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live session count in the store.",
				},
			),
			evictionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_evictions_total",
					Help: "Total sessions removed from the store by reason.",
				},
				[]string{"reason"},
			),
			streamEditsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_edits_total",
					Help: "Total streaming message edits by status.",
				},
				[]string{"status"},
			),
			streamFallbacksTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stream_plain_fallbacks_total",
					Help: "Total edits retried without rich formatting.",
				},
			),
			messagesSentTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "messages_sent_total",
					Help: "Total outbound channel messages.",
				},
			),
			messagesReceivedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "messages_received_total",
					Help: "Total inbound channel messages.",
				},
			),
		}

		prometheus.MustRegister(
			m.taskTotal,
			m.taskDuration,
			m.activeSessions,
			m.evictionsTotal,
			m.streamEditsTotal,
			m.streamFallbacksTotal,
			m.messagesSentTotal,
			m.messagesReceivedTotal,
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

func RecordTask(outcome string, duration time.Duration) {
	m := getMetrics()
	m.taskTotal.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionEvicted(reason string) {
	getMetrics().evictionsTotal.WithLabelValues(reason).Inc()
}

func RecordStreamEdit(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().streamEditsTotal.WithLabelValues(status).Inc()
}

func RecordPlainFallback() {
	getMetrics().streamFallbacksTotal.Inc()
}

func RecordMessageSent() {
	getMetrics().messagesSentTotal.Inc()
}

func RecordMessageReceived() {
	getMetrics().messagesReceivedTotal.Inc()
}
