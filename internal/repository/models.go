package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rubickcz/smsgate/internal/domain"
)

// JSONMap stores a string map in a JSONB column.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
}

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID           string              `gorm:"type:uuid;primaryKey"`
	Recipient    string              `gorm:"type:varchar(20);not null"`
	Sender       *string             `gorm:"type:varchar(20)"`
	Content      string              `gorm:"type:text;not null"`
	TemplateSlug *string             `gorm:"type:varchar(100)"`
	Backend      string              `gorm:"type:varchar(50);not null"`
	State        domain.MessageState `gorm:"type:varchar(20);not null"`
	Error        *string             `gorm:"type:text"`
	ExternalID   *string             `gorm:"type:varchar(255)"`
	Extra        JSONMap             `gorm:"type:jsonb"`
	BatchID      *string             `gorm:"type:uuid"`
	SentAt       *time.Time          `gorm:"type:timestamptz"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// TemplateModel is the persistence model for the templates table.
type TemplateModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Slug      string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Body      string `gorm:"type:text;not null"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// DispatchLogModel is the persistence model for dispatch_logs.
type DispatchLogModel struct {
	ID         string                 `gorm:"type:uuid;primaryKey"`
	MessageID  string                 `gorm:"type:uuid;not null;index"`
	Backend    string                 `gorm:"type:varchar(50);not null"`
	Kind       domain.DispatchLogKind `gorm:"type:varchar(20);not null"`
	StatusCode *int                   `gorm:"type:int"`
	Response   *string                `gorm:"type:text"`
	Error      *string                `gorm:"type:text"`
	CreatedAt  time.Time
}

func (DispatchLogModel) TableName() string {
	return "dispatch_logs"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID         string             `gorm:"type:uuid;primaryKey"`
	TotalCount int                `gorm:"not null"`
	Status     domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

func messageModelFromDomain(msg *domain.Message) *MessageModel {
	if msg == nil {
		return nil
	}

	return &MessageModel{
		ID:           msg.ID,
		Recipient:    msg.Recipient,
		Sender:       msg.Sender,
		Content:      msg.Content,
		TemplateSlug: msg.TemplateSlug,
		Backend:      msg.Backend,
		State:        msg.State,
		Error:        msg.Error,
		ExternalID:   msg.ExternalID,
		Extra:        JSONMap(msg.Extra),
		BatchID:      msg.BatchID,
		SentAt:       msg.SentAt,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:           m.ID,
		Recipient:    m.Recipient,
		Sender:       m.Sender,
		Content:      m.Content,
		TemplateSlug: m.TemplateSlug,
		Backend:      m.Backend,
		State:        m.State,
		Error:        m.Error,
		ExternalID:   m.ExternalID,
		Extra:        map[string]string(m.Extra),
		BatchID:      m.BatchID,
		SentAt:       m.SentAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:        t.ID,
		Slug:      t.Slug,
		Body:      t.Body,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		Slug:      m.Slug,
		Body:      m.Body,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func dispatchLogModelFromDomain(l *domain.DispatchLog) *DispatchLogModel {
	if l == nil {
		return nil
	}

	return &DispatchLogModel{
		ID:         l.ID,
		MessageID:  l.MessageID,
		Backend:    l.Backend,
		Kind:       l.Kind,
		StatusCode: l.StatusCode,
		Response:   l.Response,
		Error:      l.Error,
		CreatedAt:  l.CreatedAt,
	}
}

func dispatchLogModelToDomain(m *DispatchLogModel) *domain.DispatchLog {
	if m == nil {
		return nil
	}

	return &domain.DispatchLog{
		ID:         m.ID,
		MessageID:  m.MessageID,
		Backend:    m.Backend,
		Kind:       m.Kind,
		StatusCode: m.StatusCode,
		Response:   m.Response,
		Error:      m.Error,
		CreatedAt:  m.CreatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:         b.ID,
		TotalCount: b.TotalCount,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:         m.ID,
		TotalCount: m.TotalCount,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
