package backend

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/config"
	"github.com/rubickcz/smsgate/internal/domain"
)

const (
	defaultOperatorTimeout = 10 * time.Second

	requestTypeSend          = "SMS"
	requestTypeDeliveryCheck = "SMS-Status"
)

// Provider status codes returned per message by the SMS Operator
// service (sms-operator.cz).
type operatorStatus int

const (
	statusDelivered       operatorStatus = 0
	statusNotDelivered    operatorStatus = 1
	statusNumberNotExists operatorStatus = 2

	// Message never handed to a GSM operator.
	statusTimeouted     operatorStatus = 3
	statusInvalidNumber operatorStatus = 4
	statusAnotherError  operatorStatus = 5
	statusEventError    operatorStatus = 6
	statusTextTooLong   operatorStatus = 7

	// Multipart messages.
	statusPartlyDelivered              operatorStatus = 10
	statusUnknown                      operatorStatus = 11
	statusPartlyDeliveredPartlyUnknown operatorStatus = 12
	statusPartlyFailedPartlyUnknown    operatorStatus = 13
	statusPartlyMixed                  operatorStatus = 14
	statusNotFound                     operatorStatus = 15
)

var operatorStatusLabels = map[operatorStatus]string{
	statusDelivered:                    "delivered",
	statusNotDelivered:                 "not delivered",
	statusNumberNotExists:              "number not exists",
	statusTimeouted:                    "timeouted",
	statusInvalidNumber:                "wrong number format",
	statusAnotherError:                 "another error",
	statusEventError:                   "event error",
	statusTextTooLong:                  "SMS text too long",
	statusPartlyDelivered:              "partly delivered",
	statusUnknown:                      "unknown",
	statusPartlyDeliveredPartlyUnknown: "partly delivered, partly unknown",
	statusPartlyFailedPartlyUnknown:    "partly not delivered, partly unknown",
	statusPartlyMixed:                  "partly delivered, partly not delivered, partly unknown",
	statusNotFound:                     "not found",
}

func (s operatorStatus) label() string {
	if label, ok := operatorStatusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("unrecognized status %d", int(s))
}

// deliveryState maps a provider status to a message lifecycle state.
// The second return value is false for codes outside the documented
// table.
func (s operatorStatus) deliveryState() (domain.MessageState, bool) {
	switch s {
	case statusDelivered:
		return domain.StateDelivered, true
	case statusUnknown, statusPartlyDeliveredPartlyUnknown, statusPartlyFailedPartlyUnknown, statusPartlyMixed:
		return domain.StateSending, true
	case statusNotDelivered, statusNumberNotExists, statusTimeouted, statusInvalidNumber,
		statusAnotherError, statusEventError, statusTextTooLong, statusPartlyDelivered, statusNotFound:
		return domain.StateError, true
	}
	return "", false
}

type operatorRequest struct {
	XMLName     xml.Name              `xml:"serviceRequest"`
	RequestType string                `xml:"requestType"`
	Username    string                `xml:"username"`
	Password    string                `xml:"password"`
	Items       []operatorRequestItem `xml:"requestItemList>requestItem"`
}

type operatorRequestItem struct {
	Uniq      string `xml:"uniq"`
	Recipient string `xml:"recipient,omitempty"`
	Sender    string `xml:"sender,omitempty"`
	Data      string `xml:"data,omitempty"`
	SMSCount  int    `xml:"smsCount,omitempty"`
}

type operatorDataItem struct {
	SMSID  string `xml:"smsid"`
	Status int    `xml:"status"`
}

// SMSOperatorBackend speaks the XML wire protocol of the SMS Operator
// service. One POST carries a whole batch; the response pairs each
// message back by its uniq identifier.
type SMSOperatorBackend struct {
	client *resty.Client
	cfg    config.SMSOperatorConfig
	logger *zap.Logger
}

func NewSMSOperatorBackend(cfg config.SMSOperatorConfig, logger *zap.Logger) (*SMSOperatorBackend, error) {
	timeout := defaultOperatorTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewSMSOperatorBackendWithClient(cfg, client, logger)
}

func NewSMSOperatorBackendWithClient(cfg config.SMSOperatorConfig, client *resty.Client, logger *zap.Logger) (*SMSOperatorBackend, error) {
	trimmedURL := strings.TrimSpace(cfg.URL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("%w: sms-operator url is required", domain.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("%w: invalid sms-operator url: %v", domain.ErrConfiguration, err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: sms-operator credentials are required", domain.ErrConfiguration)
	}
	if cfg.UniqPrefix == "" {
		return nil, fmt.Errorf("%w: sms-operator uniq prefix is required", domain.ErrConfiguration)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: resty client is required", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.URL = trimmedURL
	client.SetRetryCount(0)

	return &SMSOperatorBackend{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (b *SMSOperatorBackend) Name() string { return "smsoperator" }

func (b *SMSOperatorBackend) uniq(messageID string) string {
	return b.cfg.UniqPrefix + "-" + messageID
}

func (b *SMSOperatorBackend) Publish(ctx context.Context, msg domain.Message) (*SendResult, error) {
	outcome := b.PublishBatch(ctx, []domain.Message{msg})[0]
	return outcome.Result, outcome.Err
}

// PublishBatch sends all messages in a single request. A message whose
// uniq is missing from the response fails alone; the rest keep their
// reported outcome.
func (b *SMSOperatorBackend) PublishBatch(ctx context.Context, msgs []domain.Message) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(msgs))

	items := make([]operatorRequestItem, 0, len(msgs))
	for _, msg := range msgs {
		item := operatorRequestItem{
			Uniq:      b.uniq(msg.ID),
			Recipient: msg.Recipient,
			Data:      msg.Content,
			SMSCount:  1,
		}
		if msg.Sender != nil {
			item.Sender = *msg.Sender
		}
		items = append(items, item)
	}

	codes, err := b.exchange(ctx, requestTypeSend, items)
	if err != nil {
		for i := range outcomes {
			outcomes[i].Err = err
		}
		return outcomes
	}

	for i, msg := range msgs {
		uniq := b.uniq(msg.ID)
		code, ok := codes[uniq]
		if !ok {
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("sms-operator response is missing uniq %s", uniq),
			}
			continue
		}

		state, known := code.deliveryState()
		switch {
		case !known:
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("sms-operator returned unrecognized status %d for uniq %s", int(code), uniq),
			}
		case state == domain.StateError:
			outcomes[i].Err = &SendError{
				Message: fmt.Sprintf("sms-operator rejected message: %s (status %d)", code.label(), int(code)),
			}
		default:
			// A DELIVERED report at publish time still means the
			// provider accepted the handoff; delivery is confirmed
			// later by the reconciler.
			if state == domain.StateDelivered {
				state = domain.StateSent
			}
			outcomes[i].Result = &SendResult{
				State:      state,
				ExternalID: uniq,
				StatusCode: http.StatusOK,
				Response:   fmt.Sprintf("%s (status %d)", code.label(), int(code)),
				Extra: map[string]string{
					"prefix":       b.cfg.UniqPrefix,
					"sender_state": strconv.Itoa(int(code)),
				},
			}
		}
	}

	b.warnUnknownUniqs(codes, msgs)

	return outcomes
}

// CheckDelivery queries delivery status for the given messages. A
// message absent from the response yields no update and stays in its
// current state.
func (b *SMSOperatorBackend) CheckDelivery(ctx context.Context, msgs []domain.Message) ([]DeliveryUpdate, error) {
	items := make([]operatorRequestItem, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, operatorRequestItem{Uniq: b.uniq(msg.ID)})
	}

	codes, err := b.exchange(ctx, requestTypeDeliveryCheck, items)
	if err != nil {
		return nil, err
	}

	updates := make([]DeliveryUpdate, 0, len(msgs))
	for _, msg := range msgs {
		code, ok := codes[b.uniq(msg.ID)]
		if !ok {
			continue
		}

		state, known := code.deliveryState()
		if !known {
			b.logger.Warn("sms-operator returned unrecognized status",
				zap.String("message_id", msg.ID),
				zap.Int("status", int(code)),
			)
			continue
		}

		update := DeliveryUpdate{
			MessageID: msg.ID,
			State:     state,
			Extra:     map[string]string{"sender_state": strconv.Itoa(int(code))},
		}
		if state == domain.StateError {
			update.Error = fmt.Sprintf("%s (status %d)", code.label(), int(code))
		}
		updates = append(updates, update)
	}

	b.warnUnknownUniqs(codes, msgs)

	return updates, nil
}

// exchange POSTs one request document and returns the per-uniq status
// codes parsed from the response.
func (b *SMSOperatorBackend) exchange(ctx context.Context, requestType string, items []operatorRequestItem) (map[string]operatorStatus, error) {
	body, err := xml.Marshal(operatorRequest{
		RequestType: requestType,
		Username:    b.cfg.Username,
		Password:    b.cfg.Password,
		Items:       items,
	})
	if err != nil {
		return nil, &SendError{Message: "serialize sms-operator request", Fatal: true, Cause: err}
	}

	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml").
		SetBody(append([]byte(xml.Header), body...)).
		Post(b.cfg.URL)
	if err != nil {
		return nil, &SendError{
			Message: "sms-operator request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &SendError{Message: "sms-operator returned empty response"}
	}
	if response.StatusCode() != http.StatusOK {
		return nil, &SendError{
			StatusCode: response.StatusCode(),
			Message:    fmt.Sprintf("sms-operator returned status %d", response.StatusCode()),
		}
	}

	codes, err := parseOperatorResponse(response.Body())
	if err != nil {
		return nil, &SendError{Message: "parse sms-operator response", Cause: err}
	}
	return codes, nil
}

// parseOperatorResponse collects every <dataitem> element regardless of
// the surrounding document shape and returns uniq -> status code.
func parseOperatorResponse(body []byte) (map[string]operatorStatus, error) {
	codes := make(map[string]operatorStatus)

	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "dataitem") {
			continue
		}

		var item operatorDataItem
		if err := decoder.DecodeElement(&item, &start); err != nil {
			return nil, fmt.Errorf("malformed dataitem: %w", err)
		}
		codes[strings.TrimSpace(item.SMSID)] = operatorStatus(item.Status)
	}

	return codes, nil
}

func (b *SMSOperatorBackend) warnUnknownUniqs(codes map[string]operatorStatus, msgs []domain.Message) {
	known := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		known[b.uniq(msg.ID)] = struct{}{}
	}
	for uniq := range codes {
		if _, ok := known[uniq]; !ok {
			b.logger.Warn("sms-operator reported unknown uniq", zap.String("uniq", uniq))
		}
	}
}
