package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "non-fatal send error", err: &SendError{Message: "rejected"}, want: false},
		{name: "fatal send error", err: &SendError{Message: "bad request shape", Fatal: true}, want: true},
		{name: "wrapped fatal send error", err: fmt.Errorf("publish: %w", &SendError{Fatal: true}), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "unclassified error", err: errors.New("programmer mistake"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: "timeout"},
		{name: "provider status", err: &SendError{StatusCode: 500, Message: "server error"}, want: "provider_error"},
		{name: "provider rejection without status", err: &SendError{Message: "rejected"}, want: "provider_error"},
		{name: "transport failure", err: &SendError{Message: "request failed", Cause: errors.New("connection refused")}, want: "transport_error"},
		{name: "unclassified", err: errors.New("boom"), want: "transport_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := FailureReason(tt.err); got != tt.want {
				t.Errorf("FailureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendErrorError(t *testing.T) {
	t.Parallel()

	err := &SendError{
		StatusCode: 502,
		Message:    "gateway unavailable",
		Cause:      errors.New("connection reset"),
	}

	got := err.Error()
	want := "send error: status=502: gateway unavailable: connection reset"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var nilErr *SendError
	if nilErr.Error() != "<nil>" {
		t.Errorf("nil Error() = %q, want <nil>", nilErr.Error())
	}
}
