package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug enables everything", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info filters debug", level: "info", debugEnabled: false, infoEnabled: true},
		{name: "warn filters info", level: "warn", debugEnabled: false, infoEnabled: false},
		{name: "empty defaults to info", level: "", debugEnabled: false, infoEnabled: true},
		{name: "level is case insensitive", level: "  WARN ", debugEnabled: false, infoEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level, "api")
			if err != nil {
				t.Fatalf("NewLogger(%q) unexpected error: %v", tc.level, err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled=%v, want=%v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("loud", "api")
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for unknown level")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "cid-123")

	id, ok := CorrelationIDFromContext(ctx)
	if !ok || id != "cid-123" {
		t.Fatalf("got (%q, %v), want (%q, true)", id, ok, "cid-123")
	}

	// A later stamp shadows the earlier one.
	ctx = WithCorrelationID(ctx, "cid-456")
	if id, _ = CorrelationIDFromContext(ctx); id != "cid-456" {
		t.Fatalf("correlation id=%q, want=%q", id, "cid-456")
	}
}

func TestCorrelationIDMissing(t *testing.T) {
	t.Parallel()

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected missing correlation id on bare context")
	}
	if _, ok := CorrelationIDFromContext(nil); ok { //nolint:staticcheck // nil context is the case under test
		t.Fatal("expected missing correlation id on nil context")
	}

	// An empty stamp counts as absent so log lines never carry a blank id.
	ctx := WithCorrelationID(context.Background(), "")
	if _, ok := CorrelationIDFromContext(ctx); ok {
		t.Fatal("expected empty correlation id to be treated as missing")
	}
}

func TestWithContextLoggerAnnotates(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithCorrelationID(context.Background(), "cid-789")
	WithContextLogger(base, ctx).Info("dispatching")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "cid-789" {
		t.Fatalf("correlationId=%v, want=%q", got, "cid-789")
	}
}

func TestWithContextLoggerPassthrough(t *testing.T) {
	t.Parallel()

	base := zap.NewNop()
	if got := WithContextLogger(base, context.Background()); got != base {
		t.Fatal("expected the same logger back when no correlation id is set")
	}
	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger to stay nil")
	}
}
