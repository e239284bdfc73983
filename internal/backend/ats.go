package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/config"
	"github.com/rubickcz/smsgate/internal/domain"
)

const defaultATSTimeout = 10 * time.Second

// Per-message statuses reported by the ATS REST gateway.
const (
	atsStatusAccepted      = "accepted"
	atsStatusDelivered     = "delivered"
	atsStatusPending       = "pending"
	atsStatusUnknown       = "unknown"
	atsStatusRejected      = "rejected"
	atsStatusInvalidNumber = "invalid_number"
	atsStatusExpired       = "expired"
)

// atsState maps a gateway status to a message lifecycle state. The
// second return value is false for statuses outside the documented set.
func atsState(status string) (domain.MessageState, bool) {
	switch status {
	case atsStatusAccepted, atsStatusPending:
		return domain.StateSending, true
	case atsStatusUnknown:
		return domain.StateUnknown, true
	case atsStatusDelivered:
		return domain.StateDelivered, true
	case atsStatusRejected, atsStatusInvalidNumber, atsStatusExpired:
		return domain.StateError, true
	}
	return "", false
}

type atsMessage struct {
	ID     string `json:"id"`
	Phone  string `json:"phone"`
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

type atsSendRequest struct {
	Validity int          `json:"validity"`
	TextID   string       `json:"textId,omitempty"`
	Messages []atsMessage `json:"messages"`
}

type atsStatusRequest struct {
	IDs []string `json:"ids"`
}

type atsResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type atsResponse struct {
	Results []atsResult `json:"results"`
}

// ATSBackend speaks the JSON REST protocol of the ATS SMS gateway.
// Supports batch publishes and delivery status queries.
type ATSBackend struct {
	client *resty.Client
	cfg    config.ATSConfig
	logger *zap.Logger
}

func NewATSBackend(cfg config.ATSConfig, logger *zap.Logger) (*ATSBackend, error) {
	timeout := defaultATSTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewATSBackendWithClient(cfg, client, logger)
}

func NewATSBackendWithClient(cfg config.ATSConfig, client *resty.Client, logger *zap.Logger) (*ATSBackend, error) {
	trimmedURL := strings.TrimSpace(cfg.URL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("%w: ats url is required", domain.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("%w: invalid ats url: %v", domain.ErrConfiguration, err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: ats credentials are required", domain.ErrConfiguration)
	}
	if cfg.UniqPrefix == "" {
		return nil, fmt.Errorf("%w: ats uniq prefix is required", domain.ErrConfiguration)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: resty client is required", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.URL = strings.TrimRight(trimmedURL, "/")
	client.SetRetryCount(0)

	return &ATSBackend{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (b *ATSBackend) Name() string { return "ats" }

func (b *ATSBackend) uniq(messageID string) string {
	return b.cfg.UniqPrefix + "-" + messageID
}

func (b *ATSBackend) Publish(ctx context.Context, msg domain.Message) (*SendResult, error) {
	outcome := b.PublishBatch(ctx, []domain.Message{msg})[0]
	return outcome.Result, outcome.Err
}

func (b *ATSBackend) PublishBatch(ctx context.Context, msgs []domain.Message) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(msgs))

	request := atsSendRequest{
		Validity: b.cfg.ValidityMinutes,
		TextID:   b.cfg.TextID,
		Messages: make([]atsMessage, 0, len(msgs)),
	}
	for _, msg := range msgs {
		item := atsMessage{
			ID:    b.uniq(msg.ID),
			Phone: msg.Recipient,
			Text:  msg.Content,
		}
		if msg.Sender != nil {
			item.Sender = *msg.Sender
		}
		request.Messages = append(request.Messages, item)
	}

	statuses, err := b.exchange(ctx, "/messages", request)
	if err != nil {
		for i := range outcomes {
			outcomes[i].Err = err
		}
		return outcomes
	}

	for i, msg := range msgs {
		id := b.uniq(msg.ID)
		status, ok := statuses[id]
		if !ok {
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("ats response is missing id %s", id),
			}
			continue
		}

		state, known := atsState(status)
		switch {
		case !known:
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("ats returned unrecognized status %q for id %s", status, id),
			}
		case state == domain.StateError:
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("ats rejected message: %s", status),
			}
		default:
			if state == domain.StateDelivered {
				state = domain.StateSent
			}
			outcomes[i].Result = &SendResult{
				State:      state,
				ExternalID: id,
				StatusCode: http.StatusOK,
				Response:   status,
				Extra: map[string]string{
					"prefix":       b.cfg.UniqPrefix,
					"sender_state": status,
				},
			}
		}
	}

	b.warnUnknownIDs(statuses, msgs)

	return outcomes
}

func (b *ATSBackend) CheckDelivery(ctx context.Context, msgs []domain.Message) ([]DeliveryUpdate, error) {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, b.uniq(msg.ID))
	}

	statuses, err := b.exchange(ctx, "/status", atsStatusRequest{IDs: ids})
	if err != nil {
		return nil, err
	}

	updates := make([]DeliveryUpdate, 0, len(msgs))
	for _, msg := range msgs {
		status, ok := statuses[b.uniq(msg.ID)]
		if !ok {
			continue
		}

		state, known := atsState(status)
		if !known {
			b.logger.Warn("ats returned unrecognized status",
				zap.String("message_id", msg.ID),
				zap.String("status", status),
			)
			continue
		}

		update := DeliveryUpdate{
			MessageID: msg.ID,
			State:     state,
			Extra:     map[string]string{"sender_state": status},
		}
		if state == domain.StateError {
			update.Error = fmt.Sprintf("ats reported %s", status)
		}
		updates = append(updates, update)
	}

	b.warnUnknownIDs(statuses, msgs)

	return updates, nil
}

// exchange POSTs one JSON document and returns per-id statuses.
func (b *ATSBackend) exchange(ctx context.Context, path string, body any) (map[string]string, error) {
	var parsed atsResponse

	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBasicAuth(b.cfg.Username, b.cfg.Password).
		SetBody(body).
		SetResult(&parsed).
		Post(b.cfg.URL + path)
	if err != nil {
		return nil, &SendError{
			Message: "ats request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &SendError{Message: "ats returned empty response"}
	}
	if response.StatusCode() != http.StatusOK {
		return nil, &SendError{
			StatusCode: response.StatusCode(),
			Message:    fmt.Sprintf("ats returned status %d", response.StatusCode()),
		}
	}

	statuses := make(map[string]string, len(parsed.Results))
	for _, result := range parsed.Results {
		statuses[strings.TrimSpace(result.ID)] = strings.ToLower(strings.TrimSpace(result.Status))
	}
	return statuses, nil
}

func (b *ATSBackend) warnUnknownIDs(statuses map[string]string, msgs []domain.Message) {
	known := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		known[b.uniq(msg.ID)] = struct{}{}
	}
	for id := range statuses {
		if _, ok := known[id]; !ok {
			b.logger.Warn("ats reported unknown id", zap.String("id", id))
		}
	}
}
