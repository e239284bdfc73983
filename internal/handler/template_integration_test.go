package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/service"
	"github.com/rubickcz/smsgate/internal/transport"
)

func TestTemplateIntegration_CreateTemplate(t *testing.T) {
	t.Parallel()

	svc := &stubTemplateService{
		createFn: func(ctx context.Context, tmpl *domain.Template) (*domain.Template, error) {
			if err := tmpl.Validate(); err != nil {
				return nil, err
			}
			tmpl.ID = "tpl-created"
			return tmpl, nil
		},
	}

	app := newTemplateTestApp(t, svc)

	validBody := `{"slug":"welcome-message","body":"Welcome {{name}}"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/templates", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != "tpl-created" {
		t.Fatalf("id = %v, want tpl-created", created["id"])
	}
	if created["isActive"] != true {
		t.Fatalf("isActive = %v, want the default true", created["isActive"])
	}

	invalidSlugBody := `{"slug":"Not A Slug!","body":"hello"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/templates", invalidSlugBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an invalid slug", resp.StatusCode)
	}

	missingBodyBody := `{"slug":"welcome-message","body":""}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/templates", missingBodyBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a missing body", resp.StatusCode)
	}
}

func TestTemplateIntegration_CreateTemplateDuplicate(t *testing.T) {
	t.Parallel()

	svc := &stubTemplateService{
		createFn: func(ctx context.Context, tmpl *domain.Template) (*domain.Template, error) {
			return nil, domain.ErrConflict
		},
	}

	app := newTemplateTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/templates", `{"slug":"welcome-message","body":"hello"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for a duplicate slug", resp.StatusCode)
	}
}

func TestTemplateIntegration_GetAndListTemplates(t *testing.T) {
	t.Parallel()

	svc := &stubTemplateService{
		getFn: func(ctx context.Context, slug string) (*domain.Template, error) {
			if slug == "welcome-message" {
				return &domain.Template{ID: "tpl-1", Slug: slug, Body: "Welcome {{name}}", IsActive: true}, nil
			}
			return nil, domain.ErrNotFound
		},
		listFn: func(ctx context.Context) ([]domain.Template, error) {
			return []domain.Template{
				{ID: "tpl-1", Slug: "welcome-message", Body: "Welcome {{name}}", IsActive: true},
				{ID: "tpl-2", Slug: "verification-code", Body: "Code: {{code}}", IsActive: false},
			}, nil
		},
	}

	app := newTemplateTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/templates/welcome-message", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/templates/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/templates", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 {
		t.Fatalf("data len = %d, want 2", len(parsed.Data))
	}
}

func TestTemplateIntegration_UpdateTemplate(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotActive bool
	svc := &stubTemplateService{
		updateFn: func(ctx context.Context, slug string, body string, isActive bool) (*domain.Template, error) {
			if slug != "welcome-message" {
				return nil, domain.ErrNotFound
			}
			gotBody = body
			gotActive = isActive
			return &domain.Template{ID: "tpl-1", Slug: slug, Body: body, IsActive: isActive}, nil
		},
	}

	app := newTemplateTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPut, "/v1/templates/welcome-message", `{"body":"New body","isActive":false}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotBody != "New body" || gotActive {
		t.Fatalf("update received body=%q active=%v, want New body with active=false", gotBody, gotActive)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/templates/not-exists", `{"body":"x"}`)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTemplateIntegration_DeleteTemplate(t *testing.T) {
	t.Parallel()

	svc := &stubTemplateService{
		deleteFn: func(ctx context.Context, slug string) error {
			if slug == "welcome-message" {
				return nil
			}
			return domain.ErrNotFound
		},
	}

	app := newTemplateTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodDelete, "/v1/templates/welcome-message", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/templates/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTemplateIntegration_SendTemplate(t *testing.T) {
	t.Parallel()

	svc := &stubTemplateService{
		sendTemplateFn: func(ctx context.Context, input service.SendTemplateInput) (*domain.Message, error) {
			switch input.Slug {
			case "welcome-message":
				return &domain.Message{
					ID:        "m-rendered",
					Recipient: domain.NormalizeRecipient(input.Recipient),
					Content:   "Welcome Petr",
					Backend:   "smsoperator",
					State:     domain.StateSent,
				}, nil
			case "dormant":
				return nil, nil
			default:
				return nil, domain.ErrNotFound
			}
		},
	}

	app := newTemplateTestApp(t, svc)

	sendBody := `{"recipient":"+420777111222","context":{"name":"Petr"}}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/templates/welcome-message/send", sendBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Sent    bool           `json:"sent"`
		Message map[string]any `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !parsed.Sent {
		t.Fatal("sent = false, want true")
	}
	if parsed.Message["id"] != "m-rendered" {
		t.Fatalf("message id = %v, want m-rendered", parsed.Message["id"])
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/templates/dormant/send", sendBody)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for a suppressed send, body=%s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Sent {
		t.Fatal("sent = true, want false for a suppressed send")
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/templates/not-exists/send", sendBody)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

type stubTemplateService struct {
	sendTemplateFn func(ctx context.Context, input service.SendTemplateInput) (*domain.Message, error)
	createFn       func(ctx context.Context, tmpl *domain.Template) (*domain.Template, error)
	getFn          func(ctx context.Context, slug string) (*domain.Template, error)
	listFn         func(ctx context.Context) ([]domain.Template, error)
	updateFn       func(ctx context.Context, slug string, body string, isActive bool) (*domain.Template, error)
	deleteFn       func(ctx context.Context, slug string) error
}

func (s *stubTemplateService) SendTemplate(ctx context.Context, input service.SendTemplateInput) (*domain.Message, error) {
	if s.sendTemplateFn != nil {
		return s.sendTemplateFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubTemplateService) CreateTemplate(ctx context.Context, tmpl *domain.Template) (*domain.Template, error) {
	if s.createFn != nil {
		return s.createFn(ctx, tmpl)
	}
	return nil, errors.New("not implemented")
}

func (s *stubTemplateService) GetTemplate(ctx context.Context, slug string) (*domain.Template, error) {
	if s.getFn != nil {
		return s.getFn(ctx, slug)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTemplateService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubTemplateService) UpdateTemplate(ctx context.Context, slug string, body string, isActive bool) (*domain.Template, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, slug, body, isActive)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTemplateService) DeleteTemplate(ctx context.Context, slug string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, slug)
	}
	return nil
}

func newTemplateTestApp(t *testing.T, svc TemplateService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterTemplateRoutes(app, svc); err != nil {
		t.Fatalf("RegisterTemplateRoutes() error = %v", err)
	}

	return app
}
