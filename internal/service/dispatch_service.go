package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/backend"
	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/ratelimit"
	"github.com/rubickcz/smsgate/internal/repository"
	"github.com/rubickcz/smsgate/internal/textnorm"
)

const (
	maxBatchSize       = 1000
	defaultSendTimeout = 30 * time.Second
)

// Options controls the dispatch behavior shared by all send paths.
type Options struct {
	// Debug short-circuits every send: messages persist in DEBUG state
	// and no provider is ever contacted.
	Debug bool
	// AllowAccent keeps diacritics in outgoing content. When false the
	// content is folded to plain ASCII letters before the handoff.
	AllowAccent bool
	// DefaultBackend handles messages that do not name a backend.
	DefaultBackend string
	// SendTimeout bounds a single provider publish call.
	SendTimeout time.Duration
}

// SendInput is one send request before it becomes a persisted message.
// Extra is an opaque provider payload stored verbatim on the message;
// providers may add their own keys to it during the handoff.
type SendInput struct {
	Recipient    string
	Sender       string
	Content      string
	TemplateSlug string
	Backend      string
	Extra        map[string]string
}

type BatchSummary struct {
	BatchID    string
	TotalCount int
	Status     domain.BatchStatus
	Counts     []repository.StateCount
}

// DispatchService owns the message lifecycle from accepted input to a
// provider handoff outcome.
type DispatchService struct {
	messages repository.MessageRepository
	batches  repository.BatchRepository
	logs     repository.DispatchLogRepository
	backends *backend.Registry
	limiter  ratelimit.RateLimiter
	logger   *zap.Logger
	metrics  *observability.Metrics
	opts     Options
	now      func() time.Time
}

func NewDispatchService(
	messages repository.MessageRepository,
	batches repository.BatchRepository,
	logs repository.DispatchLogRepository,
	backends *backend.Registry,
	limiter ratelimit.RateLimiter,
	opts Options,
	logger *zap.Logger,
) (*DispatchService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("dispatch log repository is required")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if limiter == nil {
		limiter = ratelimit.NewNoopLimiter()
	}
	if strings.TrimSpace(opts.DefaultBackend) == "" {
		return nil, fmt.Errorf("default backend is required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		messages: messages,
		batches:  batches,
		logs:     logs,
		backends: backends,
		limiter:  limiter,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send validates, persists, and publishes one message. Provider
// rejections land in the returned message as ERROR state with a nil
// error; only caller mistakes and unexpected internal failures surface
// as errors.
func (s *DispatchService) Send(ctx context.Context, input SendInput) (*domain.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	msg, err := s.buildMessage(input)
	if err != nil {
		return nil, err
	}

	if s.opts.Debug {
		msg.State = domain.StateDebug
		if err := s.messages.Create(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to persist debug message: %w", err)
		}
		s.metrics.IncMessageDebug()
		observability.WithContextLogger(s.logger, ctx).Info("debug mode active, message not sent",
			zap.String("messageId", msg.ID),
			zap.String("backend", msg.Backend),
		)
		return msg, nil
	}

	if !s.opts.AllowAccent {
		msg.Content = textnorm.StripAccents(msg.Content)
	}

	adapter, err := s.backends.Get(msg.Backend)
	if err != nil {
		return nil, err
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	return s.publish(ctx, msg, adapter)
}

// SendBatch persists and publishes a group of messages under one batch.
// Validation is all-or-nothing; publish failures are isolated per
// message and reported through the batch status.
func (s *DispatchService) SendBatch(ctx context.Context, inputs []SendInput) (*domain.Batch, []domain.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("%w: batch must include at least one message", domain.ErrValidation)
	}
	if len(inputs) > maxBatchSize {
		return nil, nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	batchID := uuid.NewString()

	created := make([]domain.Message, len(inputs))
	createdPtrs := make([]*domain.Message, len(inputs))
	for i := range inputs {
		msg, err := s.buildMessage(inputs[i])
		if err != nil {
			return nil, nil, err
		}
		msg.BatchID = &batchID
		if s.opts.Debug {
			msg.State = domain.StateDebug
		} else if !s.opts.AllowAccent {
			msg.Content = textnorm.StripAccents(msg.Content)
		}
		created[i] = *msg
		createdPtrs[i] = &created[i]
	}

	// Resolve every adapter up front so a misconfigured backend rejects
	// the whole batch before anything is persisted.
	adapters := make(map[string]backend.Backend)
	if !s.opts.Debug {
		for i := range createdPtrs {
			name := createdPtrs[i].Backend
			if _, ok := adapters[name]; ok {
				continue
			}
			adapter, err := s.backends.Get(name)
			if err != nil {
				return nil, nil, err
			}
			adapters[name] = adapter
		}
	}

	batch := &domain.Batch{
		ID:         batchID,
		TotalCount: len(inputs),
		Status:     domain.BatchStatusProcessing,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	if err := s.messages.CreateBatch(ctx, createdPtrs); err != nil {
		_ = s.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusPartialFailure)
		return nil, nil, fmt.Errorf("failed to persist batch messages: %w", err)
	}

	if s.opts.Debug {
		for range createdPtrs {
			s.metrics.IncMessageDebug()
		}
		batch.Status = domain.BatchStatusCompleted
		if err := s.batches.UpdateStatus(ctx, batch.ID, batch.Status); err != nil {
			return nil, nil, fmt.Errorf("failed to update batch status: %w", err)
		}
		return batch, created, nil
	}

	failed := 0
	for _, group := range groupByBackend(createdPtrs) {
		failed += s.publishGroup(ctx, adapters[group.name], group.messages)
	}

	batch.Status = domain.BatchStatusCompleted
	if failed > 0 {
		batch.Status = domain.BatchStatusPartialFailure
	}
	if err := s.batches.UpdateStatus(ctx, batch.ID, batch.Status); err != nil {
		return nil, nil, fmt.Errorf("failed to update batch status: %w", err)
	}

	if failed > 0 {
		s.logger.Warn("batch dispatched with partial failure",
			zap.String("batchId", batch.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(created)),
		)
		return batch, created, fmt.Errorf("batch dispatched with partial failure: %d/%d failed", failed, len(created))
	}

	return batch, created, nil
}

func (s *DispatchService) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return s.messages.GetByID(ctx, strings.TrimSpace(id))
}

func (s *DispatchService) List(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error) {
	return s.messages.List(ctx, params)
}

// GetLogs returns the dispatch history of one message, oldest first.
func (s *DispatchService) GetLogs(ctx context.Context, messageID string) ([]domain.DispatchLog, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}

	messageID = strings.TrimSpace(messageID)
	if _, err := s.messages.GetByID(ctx, messageID); err != nil {
		return nil, err
	}

	return s.logs.GetByMessageID(ctx, messageID)
}

func (s *DispatchService) GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, err
	}

	counts, err := s.messages.GetBatchSummary(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	return &BatchSummary{
		BatchID:    batch.ID,
		TotalCount: batch.TotalCount,
		Status:     batch.Status,
		Counts:     counts,
	}, nil
}

func (s *DispatchService) buildMessage(input SendInput) (*domain.Message, error) {
	backendName := strings.TrimSpace(input.Backend)
	if backendName == "" {
		backendName = s.opts.DefaultBackend
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Recipient: domain.NormalizeRecipient(input.Recipient),
		Content:   strings.TrimSpace(input.Content),
		Backend:   backendName,
		State:     domain.StateWaiting,
	}
	if sender := strings.TrimSpace(input.Sender); sender != "" {
		msg.Sender = &sender
	}
	if slug := strings.TrimSpace(input.TemplateSlug); slug != "" {
		msg.TemplateSlug = &slug
	}
	if len(input.Extra) > 0 {
		msg.Extra = make(map[string]string, len(input.Extra))
		for k, v := range input.Extra {
			msg.Extra[k] = v
		}
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// publish runs the rate limiter, the provider call, and the outcome
// write for a single message. msg must already be persisted in WAITING.
func (s *DispatchService) publish(ctx context.Context, msg *domain.Message, adapter backend.Backend) (*domain.Message, error) {
	if err := s.limiter.Wait(ctx, adapter.Name()); err != nil {
		desc := fmt.Sprintf("rate limiter wait failed: %v", err)
		if applyErr := s.applyError(ctx, msg, desc); applyErr != nil {
			return nil, applyErr
		}
		s.metrics.IncMessageFailed(msg.Backend, "rate_limit")
		return msg, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	sendStart := s.now()
	result, sendErr := adapter.Publish(sendCtx, *msg)
	s.metrics.ObserveSendDuration(msg.Backend, s.now().Sub(sendStart))

	s.recordSendLog(ctx, msg.ID, msg.Backend, result, sendErr)

	return s.applyOutcome(ctx, msg, result, sendErr)
}

// applyOutcome persists a publish outcome and mirrors it into msg.
// Fatal send errors propagate without a state write, leaving the
// message in WAITING for operator intervention.
func (s *DispatchService) applyOutcome(ctx context.Context, msg *domain.Message, result *backend.SendResult, sendErr error) (*domain.Message, error) {
	if sendErr != nil {
		if backend.IsFatal(sendErr) {
			return nil, fmt.Errorf("failed to publish message %s: %w", msg.ID, sendErr)
		}

		if err := s.applyError(ctx, msg, sendErr.Error()); err != nil {
			return nil, err
		}
		s.metrics.IncMessageFailed(msg.Backend, backend.FailureReason(sendErr))
		return msg, nil
	}

	if result == nil {
		return nil, fmt.Errorf("backend %q returned no result for message %s", msg.Backend, msg.ID)
	}

	update := repository.PublishUpdate{
		State: result.State,
		Extra: result.Extra,
	}
	if result.State != domain.StateDebug {
		sentAt := s.now().UTC()
		update.SentAt = &sentAt
	}
	if result.Sender != "" {
		update.Sender = &result.Sender
	}
	if result.ExternalID != "" {
		update.ExternalID = &result.ExternalID
	}

	if err := s.messages.ApplyPublishResult(ctx, msg.ID, update); err != nil {
		return nil, fmt.Errorf("failed to apply publish result for message %s: %w", msg.ID, err)
	}

	msg.State = update.State
	msg.Error = nil
	msg.SentAt = update.SentAt
	if update.Sender != nil {
		msg.Sender = update.Sender
	}
	msg.ExternalID = update.ExternalID
	if len(result.Extra) > 0 {
		if msg.Extra == nil {
			msg.Extra = make(map[string]string, len(result.Extra))
		}
		for k, v := range result.Extra {
			msg.Extra[k] = v
		}
	}

	if update.State == domain.StateDebug {
		s.metrics.IncMessageDebug()
	} else {
		s.metrics.IncMessageSent(msg.Backend)
	}

	return msg, nil
}

func (s *DispatchService) applyError(ctx context.Context, msg *domain.Message, desc string) error {
	update := repository.PublishUpdate{
		State: domain.StateError,
		Error: &desc,
	}
	if err := s.messages.ApplyPublishResult(ctx, msg.ID, update); err != nil {
		return fmt.Errorf("failed to mark message %s as failed: %w", msg.ID, err)
	}

	msg.State = domain.StateError
	msg.Error = &desc
	msg.SentAt = nil
	return nil
}

func (s *DispatchService) publishGroup(ctx context.Context, adapter backend.Backend, messages []*domain.Message) int {
	if batcher, ok := adapter.(backend.BatchPublisher); ok {
		return s.publishGroupBatch(ctx, adapter, batcher, messages)
	}

	failed := 0
	for _, msg := range messages {
		if _, err := s.publish(ctx, msg, adapter); err != nil {
			s.logger.Error("batch: failed to publish message",
				zap.String("messageId", msg.ID),
				zap.String("backend", msg.Backend),
				zap.Error(err),
			)
			failed++
			continue
		}
		if msg.Failed() {
			failed++
		}
	}
	return failed
}

func (s *DispatchService) publishGroupBatch(ctx context.Context, adapter backend.Backend, batcher backend.BatchPublisher, messages []*domain.Message) int {
	if err := s.limiter.Wait(ctx, adapter.Name()); err != nil {
		desc := fmt.Sprintf("rate limiter wait failed: %v", err)
		for _, msg := range messages {
			if applyErr := s.applyError(ctx, msg, desc); applyErr != nil {
				s.logger.Error("batch: failed to mark message as failed",
					zap.String("messageId", msg.ID),
					zap.Error(applyErr),
				)
			}
			s.metrics.IncMessageFailed(msg.Backend, "rate_limit")
		}
		return len(messages)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	batch := make([]domain.Message, len(messages))
	for i := range messages {
		batch[i] = *messages[i]
	}

	sendStart := s.now()
	outcomes := batcher.PublishBatch(sendCtx, batch)
	s.metrics.ObserveSendDuration(adapter.Name(), s.now().Sub(sendStart))

	failed := 0
	for i, msg := range messages {
		var result *backend.SendResult
		var outcomeErr error
		if i < len(outcomes) {
			result = outcomes[i].Result
			outcomeErr = outcomes[i].Err
		} else {
			outcomeErr = fmt.Errorf("no outcome for message %s", msg.ID)
		}

		s.recordSendLog(ctx, msg.ID, msg.Backend, result, outcomeErr)

		if _, err := s.applyOutcome(ctx, msg, result, outcomeErr); err != nil {
			s.logger.Error("batch: failed to publish message",
				zap.String("messageId", msg.ID),
				zap.String("backend", msg.Backend),
				zap.Error(err),
			)
			failed++
			continue
		}
		if msg.Failed() {
			failed++
		}
	}
	return failed
}

// recordSendLog appends a SEND entry to the dispatch history. Logging
// is best-effort so a log insert failure never loses a send outcome.
func (s *DispatchService) recordSendLog(ctx context.Context, messageID string, backendName string, result *backend.SendResult, sendErr error) {
	entry := &domain.DispatchLog{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Backend:   backendName,
		Kind:      domain.DispatchLogSend,
		CreatedAt: s.now().UTC(),
	}

	if sendErr != nil {
		desc := sendErr.Error()
		entry.Error = &desc

		var sendError *backend.SendError
		if errors.As(sendErr, &sendError) && sendError.StatusCode > 0 {
			code := sendError.StatusCode
			entry.StatusCode = &code
		}
	} else if result != nil {
		if result.StatusCode > 0 {
			code := result.StatusCode
			entry.StatusCode = &code
		}
		if response := strings.TrimSpace(result.Response); response != "" {
			entry.Response = &response
		}
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record dispatch log",
			zap.String("messageId", messageID),
			zap.Error(err),
		)
	}
}

type backendGroup struct {
	name     string
	messages []*domain.Message
}

// groupByBackend splits messages into per-backend groups, keeping the
// first-appearance order of backends and the input order inside each.
func groupByBackend(messages []*domain.Message) []backendGroup {
	groups := make([]backendGroup, 0, 1)
	index := make(map[string]int)
	for _, msg := range messages {
		i, ok := index[msg.Backend]
		if !ok {
			i = len(groups)
			index[msg.Backend] = i
			groups = append(groups, backendGroup{name: msg.Backend})
		}
		groups[i].messages = append(groups[i].messages, msg)
	}
	return groups
}
