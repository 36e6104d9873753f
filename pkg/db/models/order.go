package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

// Order is the aggregate root of the commerce lifecycle. Money columns are
// numeric(12,2); Total is always recomputed from items + discount + shipping + tax.
type Order struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber string    `gorm:"column:order_number;not null;uniqueIndex"`

	CustomerName  *string `gorm:"column:customer_name"`
	CustomerEmail *string `gorm:"column:customer_email"`
	CustomerPhone string  `gorm:"column:customer_phone;not null"`

	Status        enums.OrderStatus        `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus enums.OrderPaymentStatus `gorm:"column:payment_status;type:order_payment_status;not null;default:'pending'"`

	Subtotal     decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount     decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	ShippingCost decimal.Decimal `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	Tax          decimal.Decimal `gorm:"column:tax;type:numeric(12,2);not null;default:0"`
	Total        decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`

	CouponCode *string `gorm:"column:coupon_code"`

	ShippingAddress *types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress  *types.Address `gorm:"column:billing_address;type:jsonb;serializer:json"`

	// Customer-facing payment artifacts copied from the completing payment.
	PixQRCode       *string `gorm:"column:pix_qr_code"`
	BoletoTicketURL *string `gorm:"column:boleto_ticket_url"`

	Notes         *string       `gorm:"column:notes"`
	InternalNotes *string       `gorm:"column:internal_notes"`
	Metadata      types.JSONMap `gorm:"column:metadata;type:jsonb;serializer:json"`

	// Archived is the soft-delete flag, deliberately separate from Status.
	Archived bool `gorm:"column:archived;not null;default:false"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	PaidAt      *time.Time `gorm:"column:paid_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	TrackingCode *string `gorm:"column:tracking_code"`

	Items    []OrderItem  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Events   []OrderEvent `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments []Payment    `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
