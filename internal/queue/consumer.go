package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTag = "smsgate-worker"

// RabbitMQConsumer pulls send requests off a queue and feeds them to a
// handler. Deliveries are settled after the handler returns: a first
// failure is requeued, a redelivered failure is rejected to the
// dead-letter queue so a poison request cannot wedge the worker.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is canceled, reopening the consume session with
// exponential backoff whenever the broker connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.consumeSession(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("consume session ended, retrying",
			zap.String("queue", queue),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeSession(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.settleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// settleDelivery processes exactly one delivery. Handler failures are
// settled on the delivery itself; only a broken broker interaction
// (failed ack, nack, or reject) propagates and tears down the session.
func (c *RabbitMQConsumer) settleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeSendRequest(d)
	if err != nil {
		c.logger.Warn("rejecting unreadable send request",
			zap.String("queue", d.RoutingKey),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject unreadable delivery: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		if d.Redelivered {
			c.logger.Error("send request failed after redelivery, dead-lettering",
				zap.String("correlationId", msg.CorrelationID),
				zap.Error(err),
			)
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("failed to dead-letter delivery: %w", rejectErr)
			}
			return nil
		}

		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("failed to requeue delivery: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

// decodeSendRequest unmarshals a delivery body, backfilling the correlation
// id from the AMQP envelope when the payload carries none.
func decodeSendRequest(d amqp.Delivery) (SendRequestMessage, error) {
	var msg SendRequestMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return SendRequestMessage{}, fmt.Errorf("malformed payload: %w", err)
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	if err := msg.Validate(); err != nil {
		return SendRequestMessage{}, fmt.Errorf("invalid send request: %w", err)
	}

	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
