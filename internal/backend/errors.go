package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// SendError classifies adapter call failures. Ordinary provider
// rejections and transport failures are non-fatal: the lifecycle
// manager records them on the message and moves it to ERROR. Fatal
// errors signal misconfiguration or programmer mistakes and propagate
// to the caller instead.
type SendError struct {
	StatusCode int
	Message    string
	Fatal      bool
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "send error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsFatal reports whether an error must propagate to the caller instead
// of being recorded on the message.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Fatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}

	return true
}

// FailureReason buckets a publish failure for metrics labels.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		if sendErr.StatusCode > 0 || sendErr.Cause == nil {
			return "provider_error"
		}
		return "transport_error"
	}

	return "transport_error"
}
