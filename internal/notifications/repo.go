package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
)

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Notification, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a notification repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
