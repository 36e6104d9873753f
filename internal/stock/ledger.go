package stock

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

// ReservationRequest asks for quantity units of a product.
type ReservationRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

// Shortage reports one product that could not satisfy a reservation.
type Shortage struct {
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// Reserve validates the full request set against current stock and only then
// decrements counters. Any shortage fails the whole call with every shortage
// listed, leaving the transaction to roll back untouched. Rows are locked in
// product-id order so concurrent checkouts cannot deadlock.
func Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if len(requests) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no items to reserve")
	}

	wanted, order, err := aggregate(requests)
	if err != nil {
		return err
	}

	products, err := lockProducts(ctx, tx, order)
	if err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*models.StoreProduct, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	shortages := []Shortage{}
	for _, id := range order {
		product, ok := byID[id]
		if !ok {
			shortages = append(shortages, Shortage{ProductID: id, Requested: wanted[id], Available: 0})
			continue
		}
		if !tracked(product) {
			continue
		}
		if product.StockQuantity < wanted[id] {
			shortages = append(shortages, Shortage{
				ProductID: id,
				SKU:       product.SKU,
				Requested: wanted[id],
				Available: product.StockQuantity,
			})
		}
	}
	if len(shortages) > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").WithDetails(shortages)
	}

	for _, id := range order {
		product := byID[id]
		if !tracked(product) {
			continue
		}
		res := tx.WithContext(ctx).Model(&models.StoreProduct{}).
			Where("id = ? AND stock_quantity >= ?", id, wanted[id]).
			Update("stock_quantity", gorm.Expr("stock_quantity - ?", wanted[id]))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "decrement stock")
		}
		// Zero rows means the row changed between the locked read and the
		// guarded update. Fail the call so the transaction rolls back whole.
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails([]Shortage{{ProductID: id, SKU: product.SKU, Requested: wanted[id], Available: product.StockQuantity}})
		}
	}

	return nil
}

// Restore returns previously reserved units to the shelf. Used when an order
// is cancelled before shipment. Products no longer tracked are skipped.
func Restore(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}

	wanted, order, err := aggregate(requests)
	if err != nil {
		return err
	}

	products, err := lockProducts(ctx, tx, order)
	if err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*models.StoreProduct, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, id := range order {
		product, ok := byID[id]
		// Restore mirrors Reserve exactly: products the reservation never
		// decremented (deleted, untracked, backorderable) must not be
		// incremented either, or cancellations inflate stock.
		if !ok || !tracked(product) {
			continue
		}
		res := tx.WithContext(ctx).Model(&models.StoreProduct{}).
			Where("id = ?", id).
			Update("stock_quantity", gorm.Expr("stock_quantity + ?", wanted[id]))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "restore stock")
		}
	}

	return nil
}

func aggregate(requests []ReservationRequest) (map[uuid.UUID]int, []uuid.UUID, error) {
	wanted := make(map[uuid.UUID]int, len(requests))
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if req.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		wanted[req.ProductID] += req.Quantity
	}

	order := make([]uuid.UUID, 0, len(wanted))
	for id := range wanted {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].String() < order[j].String()
	})
	return wanted, order, nil
}

func lockProducts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.StoreProduct, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := tx.WithContext(ctx)
	// sqlite (tests) has no FOR UPDATE; the guarded updates keep the ledger
	// consistent there regardless.
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var products []models.StoreProduct
	if err := q.Where("id IN ?", ids).Order("id ASC").Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock products")
	}
	return products, nil
}

func tracked(product *models.StoreProduct) bool {
	return product.TrackStock && !product.AllowBackorder
}
