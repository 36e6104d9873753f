package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreProduct carries the inventory counters mutated by the stock ledger.
// StockQuantity never goes negative while TrackStock is on and backorders
// are disallowed.
type StoreProduct struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name string    `gorm:"column:name;not null"`
	SKU  string    `gorm:"column:sku;not null;uniqueIndex"`

	Price decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`

	StockQuantity  int  `gorm:"column:stock_quantity;not null;default:0"`
	TrackStock     bool `gorm:"column:track_stock;not null;default:true"`
	AllowBackorder bool `gorm:"column:allow_backorder;not null;default:false"`

	Active bool `gorm:"column:active;not null;default:true"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
