package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rubickcz/smsgate/internal/domain"
)

type ListParams struct {
	State        *domain.MessageState
	Backend      *string
	TemplateSlug *string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// StateCount is one row of a per-state batch summary.
type StateCount struct {
	State domain.MessageState `gorm:"column:state"`
	Count int                 `gorm:"column:count"`
}

// PublishUpdate carries the full outcome of one publish attempt. Nil
// pointer fields leave the stored column untouched.
type PublishUpdate struct {
	State      domain.MessageState
	Sender     *string
	ExternalID *string
	Extra      map[string]string
	Error      *string
	SentAt     *time.Time
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	CreateBatch(ctx context.Context, msgs []*domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	List(ctx context.Context, params ListParams) ([]domain.Message, int64, error)
	ApplyPublishResult(ctx context.Context, id string, update PublishUpdate) error
	ApplyDeliveryUpdate(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error)
	ListPending(ctx context.Context, limit int) ([]domain.Message, error)
	GetBatchSummary(ctx context.Context, batchID string) ([]StateCount, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	model := messageModelFromDomain(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if msg != nil {
		*msg = *messageModelToDomain(model)
	}
	return nil
}

func (r *GormMessageRepo) CreateBatch(ctx context.Context, msgs []*domain.Message) error {
	models := make([]MessageModel, 0, len(msgs))
	modelIndexes := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		model := messageModelFromDomain(msg)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(msgs) && msgs[idx] != nil {
			*msgs[idx] = *messageModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) List(ctx context.Context, params ListParams) ([]domain.Message, int64, error) {
	query := r.db.WithContext(ctx).Model(&MessageModel{})

	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.Backend != nil {
		query = query.Where("backend = ?", *params.Backend)
	}
	if params.TemplateSlug != nil {
		query = query.Where("template_slug = ?", *params.TemplateSlug)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []MessageModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, total, nil
}

// publishColumns builds the column writes for a publish outcome. The
// lifecycle invariants live here: error is kept only on ERROR, sent_at
// never survives a write landing on ERROR or DEBUG.
func publishColumns(update PublishUpdate) map[string]any {
	cols := map[string]any{"state": update.State}

	switch update.State {
	case domain.StateError:
		cols["error"] = update.Error
		cols["sent_at"] = nil
	case domain.StateDebug:
		cols["error"] = nil
		cols["sent_at"] = nil
	default:
		cols["error"] = nil
		if update.SentAt != nil {
			cols["sent_at"] = *update.SentAt
		}
	}

	if update.Sender != nil {
		cols["sender"] = *update.Sender
	}
	if update.ExternalID != nil {
		cols["external_id"] = *update.ExternalID
	}

	return cols
}

// deliveryColumns builds the column writes for a reconciliation update,
// keeping the same invariants as publishColumns.
func deliveryColumns(state domain.MessageState, errDesc *string) map[string]any {
	cols := map[string]any{"state": state}

	if state == domain.StateError {
		cols["error"] = errDesc
		cols["sent_at"] = nil
	} else {
		cols["error"] = nil
	}

	return cols
}

func (r *GormMessageRepo) ApplyPublishResult(ctx context.Context, id string, update PublishUpdate) error {
	cols := publishColumns(update)
	if len(update.Extra) > 0 {
		cols["extra"] = gorm.Expr("COALESCE(extra, '{}'::jsonb) || ?::jsonb", JSONMap(update.Extra))
	}

	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyDeliveryUpdate writes a reconciliation outcome guarded by the
// reconcilable states, so a concurrent publish or a terminal state is
// never overwritten. Returns false when the guard misses.
func (r *GormMessageRepo) ApplyDeliveryUpdate(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error) {
	cols := deliveryColumns(state, errDesc)
	if len(extra) > 0 {
		cols["extra"] = gorm.Expr("COALESCE(extra, '{}'::jsonb) || ?::jsonb", JSONMap(extra))
	}

	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ? AND state IN ?", id, []domain.MessageState{domain.StateSending, domain.StateUnknown}).
		Updates(cols)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPending returns reconcilable messages ordered by backend so the
// reconciler can group them into one provider call per backend.
func (r *GormMessageRepo) ListPending(ctx context.Context, limit int) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("state IN ?", []domain.MessageState{domain.StateSending, domain.StateUnknown}).
		Order("backend ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, nil
}

func (r *GormMessageRepo) GetBatchSummary(ctx context.Context, batchID string) ([]StateCount, error) {
	var counts []StateCount
	err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select("state, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("state").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
