package queue

import (
	"fmt"
	"strings"
)

// SendRequestMessage is the broker payload for asynchronous send requests.
// Exactly one of Content or TemplateSlug must be set: raw sends carry the
// final text, templated sends carry the slug plus the rendering context.
type SendRequestMessage struct {
	Recipient     string            `json:"recipient"`
	Sender        string            `json:"sender,omitempty"`
	Content       string            `json:"content,omitempty"`
	TemplateSlug  string            `json:"templateSlug,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

func (m SendRequestMessage) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}

	hasContent := strings.TrimSpace(m.Content) != ""
	hasTemplate := strings.TrimSpace(m.TemplateSlug) != ""
	if hasContent == hasTemplate {
		return fmt.Errorf("exactly one of content or templateSlug is required")
	}
	if len(m.Context) > 0 && !hasTemplate {
		return fmt.Errorf("context requires templateSlug")
	}

	return nil
}
