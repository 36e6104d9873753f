package webhooks

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// Repository is the persistence surface for inbound webhook deliveries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, event *models.WebhookEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindByGatewayEvent(ctx context.Context, gw enums.Gateway, eventID string) (*models.WebhookEvent, error)
	ListPending(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a webhook event repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByGatewayEvent(ctx context.Context, gw enums.Gateway, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND event_id = ?", gw, eventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.WebhookStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(fields).Error
}
