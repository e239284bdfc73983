package domain

import "time"

// DispatchLogKind distinguishes the provider interactions recorded for
// a message.
type DispatchLogKind string

const (
	DispatchLogSend          DispatchLogKind = "SEND"
	DispatchLogDeliveryCheck DispatchLogKind = "DELIVERY_CHECK"
)

func (k DispatchLogKind) String() string { return string(k) }

func (k DispatchLogKind) IsValid() bool {
	switch k {
	case DispatchLogSend, DispatchLogDeliveryCheck:
		return true
	}
	return false
}

// DispatchLog is an audit record of a single provider interaction.
type DispatchLog struct {
	ID         string
	MessageID  string
	Backend    string
	Kind       DispatchLogKind
	StatusCode *int
	Response   *string
	Error      *string
	CreatedAt  time.Time
}
