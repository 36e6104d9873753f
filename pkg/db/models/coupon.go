package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// Coupon is consulted (not owned) by checkout. UsedCount increments are
// conditional on UsageLimit to prevent over-redemption under concurrency.
type Coupon struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Code string    `gorm:"column:code;not null;uniqueIndex"`

	DiscountType  enums.DiscountType `gorm:"column:discount_type;type:discount_type;not null"`
	DiscountValue decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MinPurchase   decimal.Decimal    `gorm:"column:min_purchase;type:numeric(12,2);not null;default:0"`
	MaxDiscount   *decimal.Decimal   `gorm:"column:max_discount;type:numeric(12,2)"`

	UsageLimit int `gorm:"column:usage_limit;not null;default:0"`
	UsedCount  int `gorm:"column:used_count;not null;default:0"`

	Active    bool       `gorm:"column:active;not null;default:true"`
	StartsAt  *time.Time `gorm:"column:starts_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
