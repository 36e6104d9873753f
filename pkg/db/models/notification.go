package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// Notification is a customer-facing message produced from domain events.
// Delivery is best effort; the row is the record of what was said.
type Notification struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	Type    enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Title   string                 `gorm:"column:title;not null"`
	Message string                 `gorm:"column:message;not null"`

	Recipient *string    `gorm:"column:recipient"`
	SentAt    *time.Time `gorm:"column:sent_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
