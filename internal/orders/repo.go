package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	q := r.db.WithContext(ctx)
	// sqlite (tests) has no FOR UPDATE.
	if r.db.Dialector != nil && r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := q.Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	// Items load outside the locking clause; the row lock covers the order.
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Order("created_at ASC").Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", number).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.PaymentStatus != nil {
		q = q.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.CustomerEmail != nil {
		q = q.Where("customer_email = ?", *filter.CustomerEmail)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows []models.Order
	err := q.Preload("Items").
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:     map[enums.OrderStatus]int64{},
		TotalRevenue: decimal.Zero,
	}

	type statusCount struct {
		Status enums.OrderStatus
		Count  int64
	}
	var counts []statusCount
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Where("archived = ?", false).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.TotalOrders += c.Count
	}
	stats.PendingOrders = stats.ByStatus[enums.OrderStatusPending]

	var revenue decimal.NullDecimal
	err = r.db.WithContext(ctx).Model(&models.Order{}).
		Select("SUM(total)").
		Where("archived = ? AND payment_status IN ?", false, []enums.OrderPaymentStatus{
			enums.OrderPaymentStatusPaid,
			enums.OrderPaymentStatusPartiallyRefunded,
		}).
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	if revenue.Valid {
		stats.TotalRevenue = revenue.Decimal
	}
	return stats, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.OrderItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", itemID, orderID).
		Delete(&models.OrderItem{}).Error
}

func (r *repository) FindItem(ctx context.Context, orderID, itemID uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", itemID, orderID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}
