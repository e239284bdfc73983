package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/queue"
	"github.com/rubickcz/smsgate/internal/repository"
	"github.com/rubickcz/smsgate/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type MessageService interface {
	Send(ctx context.Context, input service.SendInput) (*domain.Message, error)
	SendBatch(ctx context.Context, inputs []service.SendInput) (*domain.Batch, []domain.Message, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error)
	GetLogs(ctx context.Context, messageID string) ([]domain.DispatchLog, error)
	GetBatchSummary(ctx context.Context, batchID string) (*service.BatchSummary, error)
}

type MessageHandler struct {
	service   MessageService
	publisher queue.Publisher
}

// NewMessageHandler builds the message endpoints. publisher may be nil
// when no queue is configured; the async endpoint then responds 503.
func NewMessageHandler(service MessageService, publisher queue.Publisher) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service, publisher: publisher}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService, publisher queue.Publisher) error {
	h, err := NewMessageHandler(service, publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.SendMessage)
	v1.Post("/messages/async", h.SendMessageAsync)
	v1.Post("/messages/batch", h.SendBatch)
	v1.Get("/messages/:id/logs", h.GetMessageLogs)
	v1.Get("/messages/:id", h.GetMessage)
	v1.Get("/messages", h.ListMessages)
	v1.Get("/batches/:batchId", h.GetBatchSummary)

	return nil
}

type sendMessageRequest struct {
	Recipient string            `json:"recipient"`
	Sender    string            `json:"sender"`
	Content   string            `json:"content"`
	Backend   string            `json:"backend"`
	Extra     map[string]string `json:"extra"`
}

type sendMessageAsyncRequest struct {
	Recipient     string            `json:"recipient"`
	Sender        string            `json:"sender"`
	Content       string            `json:"content"`
	TemplateSlug  string            `json:"templateSlug"`
	Context       map[string]string `json:"context"`
	CorrelationID string            `json:"correlationId"`
}

type sendBatchRequest struct {
	Messages []sendMessageRequest `json:"messages"`
}

type messageResponse struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Sender       *string           `json:"sender,omitempty"`
	Content      string            `json:"content"`
	TemplateSlug *string           `json:"templateSlug,omitempty"`
	Backend      string            `json:"backend"`
	State        string            `json:"state"`
	Error        *string           `json:"error,omitempty"`
	ExternalID   *string           `json:"externalId,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	BatchID      *string           `json:"batchId,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt,omitempty"`
}

type sendBatchResponse struct {
	BatchID    string            `json:"batchId"`
	Status     string            `json:"status"`
	TotalCount int               `json:"totalCount"`
	Messages   []messageResponse `json:"messages"`
	Warning    string            `json:"warning,omitempty"`
}

type listMessagesResponse struct {
	Data []messageResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type dispatchLogResponse struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	Backend    string    `json:"backend"`
	Kind       string    `json:"kind"`
	StatusCode *int      `json:"statusCode,omitempty"`
	Response   *string   `json:"response,omitempty"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type messageLogsResponse struct {
	Data []dispatchLogResponse `json:"data"`
}

type batchSummaryResponse struct {
	BatchID    string                `json:"batchId"`
	TotalCount int                   `json:"totalCount"`
	Status     string                `json:"status"`
	Counts     []batchStateCountItem `json:"counts"`
}

type batchStateCountItem struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// SendMessage dispatches synchronously: the response carries the
// handoff outcome, including ERROR when the provider rejected it.
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Send(c.Context(), service.SendInput{
		Recipient: req.Recipient,
		Sender:    req.Sender,
		Content:   req.Content,
		Backend:   req.Backend,
		Extra:     req.Extra,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toMessageResponse(created))
}

func (h *MessageHandler) SendMessageAsync(c *fiber.Ctx) error {
	if h.publisher == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "message queue is not configured")
	}

	var req sendMessageAsyncRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg := queue.SendRequestMessage{
		Recipient:     strings.TrimSpace(req.Recipient),
		Sender:        strings.TrimSpace(req.Sender),
		Content:       strings.TrimSpace(req.Content),
		TemplateSlug:  strings.TrimSpace(req.TemplateSlug),
		Context:       req.Context,
		CorrelationID: strings.TrimSpace(req.CorrelationID),
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = requestCorrelationID(c)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	if err := msg.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := h.publisher.Publish(c.Context(), queue.SendQueue, msg); err != nil {
		return fmt.Errorf("failed to enqueue send request: %w", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":        true,
		"correlationId": msg.CorrelationID,
	})
}

func (h *MessageHandler) SendBatch(c *fiber.Ctx) error {
	var req sendBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages is required", domain.ErrValidation)
	}

	inputs := make([]service.SendInput, 0, len(req.Messages))
	for _, item := range req.Messages {
		inputs = append(inputs, service.SendInput{
			Recipient: item.Recipient,
			Sender:    item.Sender,
			Content:   item.Content,
			Backend:   item.Backend,
			Extra:     item.Extra,
		})
	}

	batch, created, err := h.service.SendBatch(c.Context(), inputs)
	if err != nil {
		// A partial failure still created the batch; report it with a warning.
		if batch == nil {
			return err
		}

		return c.Status(fiber.StatusCreated).JSON(sendBatchResponse{
			BatchID:    batch.ID,
			Status:     batch.Status.String(),
			TotalCount: batch.TotalCount,
			Messages:   toMessageResponses(created),
			Warning:    err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sendBatchResponse{
		BatchID:    batch.ID,
		Status:     batch.Status.String(),
		TotalCount: batch.TotalCount,
		Messages:   toMessageResponses(created),
	})
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	msg, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toMessageResponse(msg))
}

func (h *MessageHandler) GetMessageLogs(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	logs, err := h.service.GetLogs(c.Context(), id)
	if err != nil {
		return err
	}

	items := make([]dispatchLogResponse, 0, len(logs))
	for _, entry := range logs {
		items = append(items, dispatchLogResponse{
			ID:         entry.ID,
			MessageID:  entry.MessageID,
			Backend:    entry.Backend,
			Kind:       entry.Kind.String(),
			StatusCode: entry.StatusCode,
			Response:   entry.Response,
			Error:      entry.Error,
			CreatedAt:  entry.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(messageLogsResponse{Data: items})
}

func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}

	messages, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listMessagesResponse{
		Data: toMessageResponses(messages),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *MessageHandler) GetBatchSummary(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	summary, err := h.service.GetBatchSummary(c.Context(), batchID)
	if err != nil {
		return err
	}

	items := make([]batchStateCountItem, 0, len(summary.Counts))
	for _, count := range summary.Counts {
		items = append(items, batchStateCountItem{
			State: count.State.String(),
			Count: count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchSummaryResponse{
		BatchID:    summary.BatchID,
		TotalCount: summary.TotalCount,
		Status:     summary.Status.String(),
		Counts:     items,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawState := strings.TrimSpace(c.Query("state")); rawState != "" {
		state, err := domain.ParseMessageStateFromString(rawState)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.State = &state
	}

	if backendName := strings.TrimSpace(c.Query("backend")); backendName != "" {
		params.Backend = &backendName
	}
	if slug := strings.TrimSpace(c.Query("templateSlug")); slug != "" {
		params.TemplateSlug = &slug
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && from.After(*to) {
		return repository.ListParams{}, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toMessageResponses(messages []domain.Message) []messageResponse {
	responses := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		m := msg
		responses = append(responses, toMessageResponse(&m))
	}
	return responses
}

func toMessageResponse(msg *domain.Message) messageResponse {
	if msg == nil {
		return messageResponse{}
	}

	return messageResponse{
		ID:           msg.ID,
		Recipient:    msg.Recipient,
		Sender:       msg.Sender,
		Content:      msg.Content,
		TemplateSlug: msg.TemplateSlug,
		Backend:      msg.Backend,
		State:        msg.State.String(),
		Error:        msg.Error,
		ExternalID:   msg.ExternalID,
		Extra:        msg.Extra,
		BatchID:      msg.BatchID,
		SentAt:       msg.SentAt,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
	}
}
