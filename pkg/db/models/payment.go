package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

// Payment is a single payment attempt against an order. An order may carry
// several (retries, split attempts). RefundedAmount never exceeds Amount.
type Payment struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID string    `gorm:"column:payment_id;not null;uniqueIndex"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	// ExternalID is the gateway's identifier, unique once assigned.
	ExternalID *string       `gorm:"column:external_id;uniqueIndex"`
	Gateway    enums.Gateway `gorm:"column:gateway;type:gateway;not null"`

	Status enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Method enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`

	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Fee            decimal.Decimal `gorm:"column:fee;type:numeric(12,2);not null;default:0"`
	NetAmount      decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null;default:0"`
	RefundedAmount decimal.Decimal `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`

	PayerName     *string `gorm:"column:payer_name"`
	PayerEmail    *string `gorm:"column:payer_email"`
	PayerDocument *string `gorm:"column:payer_document"`

	PaymentURL   *string `gorm:"column:payment_url"`
	QRCode       *string `gorm:"column:qr_code"`
	QRCodeBase64 *string `gorm:"column:qr_code_base64"`
	Barcode      *string `gorm:"column:barcode"`

	ExpiresAt *time.Time `gorm:"column:expires_at"`
	PaidAt    *time.Time `gorm:"column:paid_at"`

	ErrorCode    *string `gorm:"column:error_code"`
	ErrorMessage *string `gorm:"column:error_message"`

	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	Metadata        types.JSONMap   `gorm:"column:metadata;type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
