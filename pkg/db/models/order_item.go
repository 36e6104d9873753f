package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is the immutable product snapshot captured at checkout.
// TotalPrice is always Quantity * UnitPrice.
type OrderItem struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID *uuid.UUID `gorm:"column:product_id;type:uuid"`

	ProductName string          `gorm:"column:product_name;not null"`
	SKU         string          `gorm:"column:sku;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:numeric(12,2);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
