package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

// OrderEvent is the append-only audit trail of an order. Rows are never
// updated or deleted.
type OrderEvent struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	EventType   enums.OrderEventType `gorm:"column:event_type;type:order_event_type;not null"`
	Description string               `gorm:"column:description;not null"`
	OldStatus   *enums.OrderStatus   `gorm:"column:old_status;type:order_status"`
	NewStatus   *enums.OrderStatus   `gorm:"column:new_status;type:order_status"`
	Actor       *string              `gorm:"column:actor"`
	Metadata    types.JSONMap        `gorm:"column:metadata;type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
