package queue

import "context"

const (
	// SendQueue is the work queue for asynchronous send requests.
	SendQueue = "sms.send"
	// SendDLQ receives send requests rejected as unprocessable.
	SendDLQ = "dlq.sms.send"
)

// Publisher publishes send requests to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SendRequestMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg SendRequestMessage) error

// Consumer consumes send requests from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
