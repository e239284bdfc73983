package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/render"
	"github.com/rubickcz/smsgate/internal/repository"
)

// TemplateGuard decides whether a rendered template send may go out.
// Returning false suppresses the send silently.
type TemplateGuard func(ctx context.Context, tmpl domain.Template, recipient string) bool

// ActiveTemplateGuard is the default guard: only active templates send.
func ActiveTemplateGuard(_ context.Context, tmpl domain.Template, _ string) bool {
	return tmpl.IsActive
}

// SendTemplateInput is one templated send request.
type SendTemplateInput struct {
	Recipient string
	Sender    string
	Slug      string
	Context   map[string]string
	Backend   string
}

// TemplateService manages stored templates and dispatches rendered
// sends through the dispatch service.
type TemplateService struct {
	templates repository.TemplateRepository
	dispatch  *DispatchService
	renderer  render.Renderer
	guard     TemplateGuard
	logger    *zap.Logger
}

func NewTemplateService(
	templates repository.TemplateRepository,
	dispatch *DispatchService,
	renderer render.Renderer,
	guard TemplateGuard,
	logger *zap.Logger,
) (*TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	if guard == nil {
		guard = ActiveTemplateGuard
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TemplateService{
		templates: templates,
		dispatch:  dispatch,
		renderer:  renderer,
		guard:     guard,
		logger:    logger,
	}, nil
}

// SendTemplate renders the stored template and dispatches the result.
// A guard refusal returns (nil, nil): the send is suppressed, nothing
// is persisted, and the caller reports it as not sent.
func (s *TemplateService) SendTemplate(ctx context.Context, input SendTemplateInput) (*domain.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: template slug is required", domain.ErrValidation)
	}

	tmpl, err := s.templates.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if !s.guard(ctx, *tmpl, input.Recipient) {
		observability.WithContextLogger(s.logger, ctx).Info("template send suppressed",
			zap.String("slug", slug),
		)
		return nil, nil
	}

	content, err := s.renderer.Render(tmpl.Body, input.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %q: %w", slug, err)
	}

	return s.dispatch.Send(ctx, SendInput{
		Recipient:    input.Recipient,
		Sender:       input.Sender,
		Content:      content,
		TemplateSlug: slug,
		Backend:      input.Backend,
	})
}

func (s *TemplateService) CreateTemplate(ctx context.Context, tmpl *domain.Template) (*domain.Template, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("%w: template is required", domain.ErrValidation)
	}

	tmpl.Slug = strings.TrimSpace(tmpl.Slug)
	tmpl.Body = strings.TrimSpace(tmpl.Body)
	if strings.TrimSpace(tmpl.ID) == "" {
		tmpl.ID = uuid.NewString()
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, err
	}

	return tmpl, nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, slug string) (*domain.Template, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, fmt.Errorf("%w: template slug is required", domain.ErrValidation)
	}
	return s.templates.GetBySlug(ctx, strings.TrimSpace(slug))
}

func (s *TemplateService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return s.templates.List(ctx)
}

// UpdateTemplate replaces the body and active flag of a stored template.
func (s *TemplateService) UpdateTemplate(ctx context.Context, slug string, body string, isActive bool) (*domain.Template, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: template slug is required", domain.ErrValidation)
	}

	tmpl := &domain.Template{
		Slug:     slug,
		Body:     strings.TrimSpace(body),
		IsActive: isActive,
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	if err := s.templates.Update(ctx, tmpl); err != nil {
		return nil, err
	}

	return s.templates.GetBySlug(ctx, slug)
}

func (s *TemplateService) DeleteTemplate(ctx context.Context, slug string) error {
	if strings.TrimSpace(slug) == "" {
		return fmt.Errorf("%w: template slug is required", domain.ErrValidation)
	}
	return s.templates.Delete(ctx, strings.TrimSpace(slug))
}
