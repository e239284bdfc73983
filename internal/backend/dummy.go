package backend

import (
	"context"

	"github.com/rubickcz/smsgate/internal/domain"
)

// DummyBackend accepts every message without contacting any provider.
// Messages end in the DEBUG state; the adapter also serves SMS_DEBUG
// mode and test environments.
type DummyBackend struct{}

func NewDummyBackend() *DummyBackend {
	return &DummyBackend{}
}

func (b *DummyBackend) Name() string { return "dummy" }

func (b *DummyBackend) Publish(_ context.Context, _ domain.Message) (*SendResult, error) {
	return &SendResult{State: domain.StateDebug}, nil
}
