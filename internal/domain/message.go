package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MessageState represents the delivery lifecycle state of an SMS message.
type MessageState string

const (
	StateWaiting   MessageState = "WAITING"
	StateDebug     MessageState = "DEBUG"
	StateSending   MessageState = "SENDING"
	StateSent      MessageState = "SENT"
	StateError     MessageState = "ERROR"
	StateUnknown   MessageState = "UNKNOWN"
	StateDelivered MessageState = "DELIVERED"
)

func (s MessageState) String() string {
	return string(s)
}

func (s MessageState) IsValid() bool {
	switch s {
	case StateWaiting, StateDebug, StateSending, StateSent, StateError, StateUnknown, StateDelivered:
		return true
	}
	return false
}

// Terminal reports whether no further state changes are expected.
func (s MessageState) Terminal() bool {
	switch s {
	case StateDelivered, StateError, StateDebug:
		return true
	}
	return false
}

// Reconcilable reports whether a message in this state is eligible for
// a delivery status check against the provider.
func (s MessageState) Reconcilable() bool {
	return s == StateSending || s == StateUnknown
}

func ParseMessageStateFromString(value string) (MessageState, error) {
	state := MessageState(strings.ToUpper(strings.TrimSpace(value)))
	if !state.IsValid() {
		return "", fmt.Errorf("%w: invalid message state: %s", ErrValidation, value)
	}
	return state, nil
}

// MaxContentLength bounds message content at ten concatenated GSM segments.
const MaxContentLength = 1600

var (
	recipientPattern  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	recipientReplacer = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizeRecipient strips formatting characters so numbers like
// "+420 777 123 456" validate and dedupe consistently.
func NormalizeRecipient(recipient string) string {
	return recipientReplacer.Replace(strings.TrimSpace(recipient))
}

// Message is one outbound SMS and the full record of its delivery lifecycle.
type Message struct {
	ID           string
	Recipient    string
	Sender       *string
	Content      string
	TemplateSlug *string
	Backend      string
	State        MessageState
	Error        *string
	ExternalID   *string
	Extra        map[string]string
	BatchID      *string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Failed reports whether the message ended in the ERROR state.
func (m *Message) Failed() bool {
	return m.State == StateError
}

func (m *Message) Validate() error {
	if m.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !recipientPattern.MatchString(m.Recipient) {
		return fmt.Errorf("%w: recipient is not a valid phone number: %s", ErrValidation, m.Recipient)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if length := len([]rune(m.Content)); length > MaxContentLength {
		return fmt.Errorf("%w: content length %d exceeds maximum of %d", ErrValidation, length, MaxContentLength)
	}
	if !m.State.IsValid() {
		return fmt.Errorf("%w: invalid message state: %s", ErrValidation, m.State)
	}
	return nil
}
