package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/rubickcz/smsgate/internal/domain"
)

type TemplateRepository interface {
	Create(ctx context.Context, tpl *domain.Template) error
	GetBySlug(ctx context.Context, slug string) (*domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	Update(ctx context.Context, tpl *domain.Template) error
	Delete(ctx context.Context, slug string) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) Create(ctx context.Context, tpl *domain.Template) error {
	model := templateModelFromDomain(tpl)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: template slug %q already exists", domain.ErrConflict, tpl.Slug)
	}
	if err != nil {
		return err
	}
	if tpl != nil {
		*tpl = *templateModelToDomain(model)
	}
	return nil
}

func (r *GormTemplateRepo) GetBySlug(ctx context.Context, slug string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).First(&model, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) List(ctx context.Context) ([]domain.Template, error) {
	var models []TemplateModel
	err := r.db.WithContext(ctx).
		Order("slug ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	templates := make([]domain.Template, 0, len(models))
	for i := range models {
		templates = append(templates, *templateModelToDomain(&models[i]))
	}

	return templates, nil
}

func (r *GormTemplateRepo) Update(ctx context.Context, tpl *domain.Template) error {
	result := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("slug = ?", tpl.Slug).
		Updates(map[string]any{
			"body":      tpl.Body,
			"is_active": tpl.IsActive,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the template row. Messages keep their template_slug;
// the reference is deliberately soft.
func (r *GormTemplateRepo) Delete(ctx context.Context, slug string) error {
	result := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		Delete(&TemplateModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
