package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/service"
)

type TemplateService interface {
	SendTemplate(ctx context.Context, input service.SendTemplateInput) (*domain.Message, error)
	CreateTemplate(ctx context.Context, tmpl *domain.Template) (*domain.Template, error)
	GetTemplate(ctx context.Context, slug string) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	UpdateTemplate(ctx context.Context, slug string, body string, isActive bool) (*domain.Template, error)
	DeleteTemplate(ctx context.Context, slug string) error
}

type TemplateHandler struct {
	service TemplateService
}

func NewTemplateHandler(service TemplateService) (*TemplateHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("template service is required")
	}
	return &TemplateHandler{service: service}, nil
}

func RegisterTemplateRoutes(router fiber.Router, service TemplateService) error {
	h, err := NewTemplateHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/templates", h.CreateTemplate)
	v1.Get("/templates", h.ListTemplates)
	v1.Post("/templates/:slug/send", h.SendTemplate)
	v1.Get("/templates/:slug", h.GetTemplate)
	v1.Put("/templates/:slug", h.UpdateTemplate)
	v1.Delete("/templates/:slug", h.DeleteTemplate)

	return nil
}

type createTemplateRequest struct {
	Slug     string `json:"slug"`
	Body     string `json:"body"`
	IsActive *bool  `json:"isActive"`
}

type updateTemplateRequest struct {
	Body     string `json:"body"`
	IsActive *bool  `json:"isActive"`
}

type sendTemplateRequest struct {
	Recipient string            `json:"recipient"`
	Sender    string            `json:"sender"`
	Context   map[string]string `json:"context"`
	Backend   string            `json:"backend"`
}

type templateResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type listTemplatesResponse struct {
	Data []templateResponse `json:"data"`
}

type sendTemplateResponse struct {
	Sent    bool             `json:"sent"`
	Message *messageResponse `json:"message,omitempty"`
}

func (h *TemplateHandler) CreateTemplate(c *fiber.Ctx) error {
	var req createTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	// Templates default to active; sends must be opted out, not in.
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	created, err := h.service.CreateTemplate(c.Context(), &domain.Template{
		Slug:     req.Slug,
		Body:     req.Body,
		IsActive: isActive,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toTemplateResponse(created))
}

func (h *TemplateHandler) GetTemplate(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))
	tmpl, err := h.service.GetTemplate(c.Context(), slug)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(tmpl))
}

func (h *TemplateHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.service.ListTemplates(c.Context())
	if err != nil {
		return err
	}

	items := make([]templateResponse, 0, len(templates))
	for _, tmpl := range templates {
		t := tmpl
		items = append(items, toTemplateResponse(&t))
	}

	return c.Status(fiber.StatusOK).JSON(listTemplatesResponse{Data: items})
}

func (h *TemplateHandler) UpdateTemplate(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))

	var req updateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	updated, err := h.service.UpdateTemplate(c.Context(), slug, req.Body, isActive)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(updated))
}

func (h *TemplateHandler) DeleteTemplate(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))
	if err := h.service.DeleteTemplate(c.Context(), slug); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// SendTemplate renders the stored template and dispatches the result.
// A suppressed send (inactive template) responds 200 with sent=false;
// a dispatched message responds 201 regardless of the handoff outcome.
func (h *TemplateHandler) SendTemplate(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))

	var req sendTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg, err := h.service.SendTemplate(c.Context(), service.SendTemplateInput{
		Recipient: req.Recipient,
		Sender:    req.Sender,
		Slug:      slug,
		Context:   req.Context,
		Backend:   req.Backend,
	})
	if err != nil {
		return err
	}

	if msg == nil {
		return c.Status(fiber.StatusOK).JSON(sendTemplateResponse{Sent: false})
	}

	resp := toMessageResponse(msg)
	return c.Status(fiber.StatusCreated).JSON(sendTemplateResponse{
		Sent:    true,
		Message: &resp,
	})
}

func toTemplateResponse(tmpl *domain.Template) templateResponse {
	if tmpl == nil {
		return templateResponse{}
	}

	return templateResponse{
		ID:        tmpl.ID,
		Slug:      tmpl.Slug,
		Body:      tmpl.Body,
		IsActive:  tmpl.IsActive,
		CreatedAt: tmpl.CreatedAt,
		UpdatedAt: tmpl.UpdatedAt,
	}
}
