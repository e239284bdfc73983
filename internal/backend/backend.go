// Package backend contains the outbound SMS provider adapters and the
// registry that resolves them by name.
package backend

import (
	"context"

	"github.com/rubickcz/smsgate/internal/domain"
)

// Backend is the outbound SMS delivery port. Publish hands one message
// to the provider and reports the resulting lifecycle state.
type Backend interface {
	Name() string
	Publish(ctx context.Context, msg domain.Message) (*SendResult, error)
}

// SendResult stores the provider handoff outcome for persistence.
// StatusCode and Response carry the transport status and the provider's
// per-message response excerpt for the dispatch audit log.
type SendResult struct {
	State      domain.MessageState
	Sender     string
	ExternalID string
	StatusCode int
	Response   string
	Extra      map[string]string
}

// BatchPublisher is an optional capability for providers that accept
// multiple messages in a single request. Implementations return exactly
// one outcome per input message, preserving input order and continuing
// past individual failures.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []domain.Message) []BatchOutcome
}

// BatchOutcome is the per-message result of a batch publish.
type BatchOutcome struct {
	Result *SendResult
	Err    error
}

// DeliveryChecker is an optional capability for providers that expose
// delivery status queries. Messages absent from the returned updates
// are left unchanged.
type DeliveryChecker interface {
	CheckDelivery(ctx context.Context, msgs []domain.Message) ([]DeliveryUpdate, error)
}

// DeliveryUpdate is one provider-reported state change.
type DeliveryUpdate struct {
	MessageID string
	State     domain.MessageState
	Error     string
	Extra     map[string]string
}
