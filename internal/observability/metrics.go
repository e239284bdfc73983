package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API, worker, and reconcile flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	messagesSentTotal    *prometheus.CounterVec
	messagesFailedTotal  *prometheus.CounterVec
	messagesDebugTotal   prometheus.Counter
	messageSendDuration  *prometheus.HistogramVec
	reconcileRunsTotal   *prometheus.CounterVec
	reconcileUpdateTotal *prometheus.CounterVec
	workerInflight       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smsgate",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "messages_sent_total",
				Help:      "Total number of messages handed off to a provider successfully.",
			},
			[]string{"backend"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "messages_failed_total",
				Help:      "Total number of messages that ended in error state.",
			},
			[]string{"backend", "reason"},
		),
		messagesDebugTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "messages_debug_total",
				Help:      "Total number of messages short-circuited by debug mode.",
			},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smsgate",
				Name:      "message_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by backend.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"backend"},
		),
		reconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "reconcile_runs_total",
				Help:      "Total number of reconciliation passes by result.",
			},
			[]string{"result"},
		),
		reconcileUpdateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsgate",
				Name:      "reconcile_updates_total",
				Help:      "Total number of message state transitions applied by reconciliation.",
			},
			[]string{"backend", "state"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smsgate",
				Name:      "worker_inflight",
				Help:      "Current number of queue deliveries being processed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messagesDebugTotal,
		m.messageSendDuration,
		m.reconcileRunsTotal,
		m.reconcileUpdateTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncMessageSent(backend string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeBackend(backend)).Inc()
}

func (m *Metrics) IncMessageFailed(backend string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.messagesFailedTotal.WithLabelValues(normalizeBackend(backend), reasonLabel).Inc()
}

func (m *Metrics) IncMessageDebug() {
	if m == nil {
		return
	}
	m.messagesDebugTotal.Inc()
}

func (m *Metrics) ObserveSendDuration(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.messageSendDuration.WithLabelValues(normalizeBackend(backend)).Observe(seconds)
}

func (m *Metrics) IncReconcileRun(partialFailure bool) {
	if m == nil {
		return
	}
	result := "ok"
	if partialFailure {
		result = "partial_failure"
	}
	m.reconcileRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReconcileUpdate(backend string, state string) {
	if m == nil {
		return
	}
	m.reconcileUpdateTotal.WithLabelValues(normalizeBackend(backend), strings.ToUpper(strings.TrimSpace(state))).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeBackend(backend string) string {
	normalized := strings.ToLower(strings.TrimSpace(backend))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
