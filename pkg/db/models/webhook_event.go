package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// WebhookEvent records every inbound gateway delivery. The unique
// (gateway, event_id) pair is the deduplication key; the constraint, not
// application checks, is the source of truth.
type WebhookEvent struct {
	ID      uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	Gateway enums.Gateway `gorm:"column:gateway;type:gateway;not null;uniqueIndex:ux_webhook_events_gateway_event"`
	EventID string        `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_gateway_event"`

	EventType string              `gorm:"column:event_type;not null"`
	Status    enums.WebhookStatus `gorm:"column:status;type:webhook_status;not null;default:'pending'"`

	Payload json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Headers json.RawMessage `gorm:"column:headers;type:jsonb"`

	RetryCount   int     `gorm:"column:retry_count;not null;default:0"`
	ErrorMessage *string `gorm:"column:error_message"`

	PaymentID *uuid.UUID `gorm:"column:payment_id;type:uuid"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`

	ProcessedAt *time.Time `gorm:"column:processed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
