package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout that produced a new order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	Total         decimal.Decimal `json:"total"`
	ItemCount     int             `json:"item_count"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	OldStatus   enums.OrderStatus `json:"old_status"`
	NewStatus   enums.OrderStatus `json:"new_status"`
	Actor       string            `json:"actor,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// OrderCancelledEvent carries the cancellation details, including whether
// reserved stock was returned to the shelf.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	Reason        string    `json:"reason,omitempty"`
	StockRestored bool      `json:"stock_restored"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

// PaymentCreatedEvent is emitted when a new payment attempt is registered.
type PaymentCreatedEvent struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	OrderID   uuid.UUID           `json:"order_id"`
	Gateway   enums.Gateway       `json:"gateway"`
	Method    enums.PaymentMethod `json:"method"`
	Amount    decimal.Decimal     `json:"amount"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

// PaymentCompletedEvent is emitted when a payment reaches COMPLETED.
type PaymentCompletedEvent struct {
	PaymentID   uuid.UUID           `json:"payment_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	Gateway     enums.Gateway       `json:"gateway"`
	Method      enums.PaymentMethod `json:"method"`
	Amount      decimal.Decimal     `json:"amount"`
	PaidAt      time.Time           `json:"paid_at"`
}

// PaymentFailedEvent is emitted when a payment attempt fails.
type PaymentFailedEvent struct {
	PaymentID    uuid.UUID     `json:"payment_id"`
	OrderID      uuid.UUID     `json:"order_id"`
	Gateway      enums.Gateway `json:"gateway"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// PaymentExpiredEvent is emitted when a pending payment passes its deadline.
type PaymentExpiredEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// PaymentRefundedEvent reports a full or partial refund.
type PaymentRefundedEvent struct {
	PaymentID      uuid.UUID       `json:"payment_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Partial        bool            `json:"partial"`
}
