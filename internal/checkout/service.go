package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/coupons"
	"github.com/vendalivre/vendalivre-backend/internal/stock"
	"github.com/vendalivre/vendalivre-backend/pkg/db"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox/payloads"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

// orderNumberAttempts bounds the retry loop when a generated number collides.
const orderNumberAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ItemInput is one line of the checkout cart.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// Input is everything the customer submits at checkout.
type Input struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	Items      []ItemInput
	CouponCode string

	ShippingAddress *types.Address
	BillingAddress  *types.Address
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal

	Notes    string
	Metadata types.JSONMap
}

// Service turns a cart into a persisted order. Stock reservation, coupon
// redemption and order creation happen in a single transaction so a failure
// anywhere leaves nothing behind.
type Service struct {
	tx      txRunner
	coupons *coupons.Service
	outbox  outboxPublisher
}

// NewService builds the checkout orchestrator.
func NewService(tx txRunner, couponSvc *coupons.Service, outboxSvc outboxPublisher) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if couponSvc == nil {
		return nil, fmt.Errorf("coupon service required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Service{tx: tx, coupons: couponSvc, outbox: outboxSvc}, nil
}

// Checkout validates the cart, reserves stock, redeems the coupon when one is
// given and persists the order with its item snapshots and audit trail.
func (s *Service) Checkout(ctx context.Context, input Input) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products, err := loadProducts(ctx, tx, input.Items)
		if err != nil {
			return err
		}

		requests := make([]stock.ReservationRequest, 0, len(input.Items))
		for _, item := range input.Items {
			requests = append(requests, stock.ReservationRequest{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}
		if err := stock.Reserve(ctx, tx, requests); err != nil {
			return err
		}

		subtotal := decimal.Zero
		items := make([]models.OrderItem, 0, len(input.Items))
		for _, item := range input.Items {
			product := products[item.ProductID]
			productID := product.ID
			lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			items = append(items, models.OrderItem{
				ProductID:   &productID,
				ProductName: product.Name,
				SKU:         product.SKU,
				Quantity:    item.Quantity,
				UnitPrice:   product.Price,
				TotalPrice:  lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
		}

		discount := decimal.Zero
		var couponCode *string
		if input.CouponCode != "" {
			redeemed, coupon, err := s.coupons.WithTx(tx).Redeem(ctx, input.CouponCode, subtotal)
			if err != nil {
				return err
			}
			discount = redeemed
			couponCode = &coupon.Code
		}

		total := subtotal.Sub(discount).Add(input.ShippingCost).Add(input.Tax)
		if total.IsNegative() {
			total = decimal.Zero
		}

		order := models.Order{
			CustomerPhone:   strings.TrimSpace(input.CustomerPhone),
			Status:          enums.OrderStatusPending,
			PaymentStatus:   enums.OrderPaymentStatusPending,
			Subtotal:        subtotal,
			Discount:        discount,
			ShippingCost:    input.ShippingCost,
			Tax:             input.Tax,
			Total:           total,
			CouponCode:      couponCode,
			ShippingAddress: input.ShippingAddress,
			BillingAddress:  input.BillingAddress,
			Metadata:        input.Metadata,
			Items:           items,
		}
		if name := strings.TrimSpace(input.CustomerName); name != "" {
			order.CustomerName = &name
		}
		if email := strings.TrimSpace(input.CustomerEmail); email != "" {
			order.CustomerEmail = &email
		}
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			order.Notes = &notes
		}

		if err := createWithNumber(ctx, tx, &order); err != nil {
			return err
		}

		actor := "customer"
		event := models.OrderEvent{
			OrderID:     order.ID,
			EventType:   enums.OrderEventCreated,
			Description: fmt.Sprintf("order %s created with %d item(s)", order.OrderNumber, len(items)),
			NewStatus:   &order.Status,
			Actor:       &actor,
		}
		if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order event")
		}

		email := ""
		if order.CustomerEmail != nil {
			email = *order.CustomerEmail
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Version:       1,
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerEmail: email,
				Total:         order.Total,
				ItemCount:     len(items),
			},
		})
		if err != nil {
			return err
		}

		created = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func validateInput(input Input) error {
	if strings.TrimSpace(input.CustomerPhone) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer phone required")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
	}
	if input.ShippingCost.IsNegative() || input.Tax.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping cost and tax must not be negative")
	}
	return nil
}

func loadProducts(ctx context.Context, tx *gorm.DB, items []ItemInput) (map[uuid.UUID]*models.StoreProduct, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	var rows []models.StoreProduct
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	products := make(map[uuid.UUID]*models.StoreProduct, len(rows))
	for i := range rows {
		products[rows[i].ID] = &rows[i]
	}
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]string{"product_id": item.ProductID.String()})
		}
		if !product.Active {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not for sale").
				WithDetails(map[string]string{"product_id": item.ProductID.String(), "sku": product.SKU})
		}
	}
	return products, nil
}

// createWithNumber inserts the order, regenerating the order number on the
// rare unique collision.
func createWithNumber(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = newOrderNumber()
		err = tx.WithContext(ctx).Create(order).Error
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "order_number") {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		// Association inserts may have partially applied before the
		// collision surfaced; reset IDs so the retry starts clean.
		order.ID = uuid.Nil
		for i := range order.Items {
			order.Items[i].ID = uuid.Nil
			order.Items[i].OrderID = uuid.Nil
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
}

func newOrderNumber() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), uuid.NewString()[:6])
	}
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), hex.EncodeToString(buf))
}
