package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/queue"
)

const minWorkerConcurrency = 1

// WorkerService drains the send queue and dispatches each request. A
// request that cannot ever succeed is acked away with a log entry so it
// cannot poison the queue; infrastructure failures are nacked back for
// redelivery.
type WorkerService struct {
	dispatch    *DispatchService
	templates   *TemplateService
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(
	dispatch *DispatchService,
	templates *TemplateService,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template service is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		dispatch:    dispatch,
		templates:   templates,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the send queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.SendQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.SendQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queue.SendQueue),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.SendQueue),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.SendRequestMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	var (
		dispatched *domain.Message
		err        error
	)
	if msg.TemplateSlug != "" {
		dispatched, err = s.templates.SendTemplate(ctx, SendTemplateInput{
			Recipient: msg.Recipient,
			Sender:    msg.Sender,
			Slug:      msg.TemplateSlug,
			Context:   msg.Context,
		})
	} else {
		dispatched, err = s.dispatch.Send(ctx, SendInput{
			Recipient: msg.Recipient,
			Sender:    msg.Sender,
			Content:   msg.Content,
		})
	}

	if err != nil {
		// Requests that can never succeed are dropped, not requeued.
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn("dropping unprocessable send request",
				zap.String("templateSlug", msg.TemplateSlug),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	if dispatched == nil {
		logger.Info("send request suppressed",
			zap.String("templateSlug", msg.TemplateSlug),
		)
		return nil
	}

	logger.Info("send request dispatched",
		zap.String("messageId", dispatched.ID),
		zap.String("backend", dispatched.Backend),
		zap.String("state", dispatched.State.String()),
	)
	return nil
}
