package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsSendCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncMessageSent("SMSOPERATOR")
	metrics.IncMessageFailed("smsoperator", "provider_error")
	metrics.IncMessageDebug()
	metrics.ObserveSendDuration("smsoperator", 120*time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()

	if got := testutil.ToFloat64(metrics.messagesSentTotal.WithLabelValues("smsoperator")); got != 1 {
		t.Fatalf("messages_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.messagesFailedTotal.WithLabelValues("smsoperator", "provider_error")); got != 1 {
		t.Fatalf("messages_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.messagesDebugTotal); got != 1 {
		t.Fatalf("messages_debug_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsReconcileCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncReconcileRun(false)
	metrics.IncReconcileRun(true)
	metrics.IncReconcileUpdate("ats", "delivered")

	if got := testutil.ToFloat64(metrics.reconcileRunsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("reconcile_runs_total{result=ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.reconcileRunsTotal.WithLabelValues("partial_failure")); got != 1 {
		t.Fatalf("reconcile_runs_total{result=partial_failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.reconcileUpdateTotal.WithLabelValues("ats", "DELIVERED")); got != 1 {
		t.Fatalf("reconcile_updates_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
