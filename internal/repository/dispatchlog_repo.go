package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/rubickcz/smsgate/internal/domain"
)

type DispatchLogRepository interface {
	Create(ctx context.Context, l *domain.DispatchLog) error
	GetByMessageID(ctx context.Context, messageID string) ([]domain.DispatchLog, error)
}

type GormDispatchLogRepo struct {
	db *gorm.DB
}

func NewGormDispatchLogRepo(db *gorm.DB) *GormDispatchLogRepo {
	return &GormDispatchLogRepo{db: db}
}

func (r *GormDispatchLogRepo) Create(ctx context.Context, l *domain.DispatchLog) error {
	model := dispatchLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *dispatchLogModelToDomain(model)
	}
	return nil
}

func (r *GormDispatchLogRepo) GetByMessageID(ctx context.Context, messageID string) ([]domain.DispatchLog, error) {
	var models []DispatchLogModel
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.DispatchLog, 0, len(models))
	for i := range models {
		logs = append(logs, *dispatchLogModelToDomain(&models[i]))
	}

	return logs, nil
}
