package checkout

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/coupons"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type testEnv struct {
	db  *gorm.DB
	svc *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.OrderEvent{},
		&models.StoreProduct{}, &models.Coupon{}, &models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	couponSvc := coupons.NewService(coupons.NewRepository(db))
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	svc, err := NewService(&testTxRunner{db: db}, couponSvc, outboxSvc)
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return &testEnv{db: db, svc: svc}
}

func (e *testEnv) seedProduct(t *testing.T, name string, price int64, stock int) *models.StoreProduct {
	t.Helper()
	product := models.StoreProduct{
		ID:            uuid.New(),
		Name:          name,
		SKU:           strings.ToUpper(name) + "-" + uuid.NewString()[:4],
		Price:         decimal.NewFromInt(price),
		StockQuantity: stock,
		TrackStock:    true,
		Active:        true,
	}
	if err := e.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return &product
}

func (e *testEnv) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var product models.StoreProduct
	if err := e.db.First(&product, "id = ?", id).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.StockQuantity
}

func TestCheckoutHappyPath(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	caneca := env.seedProduct(t, "caneca", 25, 10)
	camiseta := env.seedProduct(t, "camiseta", 50, 5)

	order, err := env.svc.Checkout(ctx, Input{
		CustomerName:  "Ana Souza",
		CustomerEmail: "ana@example.com",
		CustomerPhone: "+5511988880000",
		Items: []ItemInput{
			{ProductID: caneca.ID, Quantity: 2},
			{ProductID: camiseta.ID, Quantity: 1},
		},
		ShippingCost: decimal.NewFromInt(15),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if !strings.HasPrefix(order.OrderNumber, "ORD-") {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	// 2*25 + 1*50 = 100 subtotal, +15 shipping.
	if !order.Subtotal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("subtotal = %s, want 100", order.Subtotal)
	}
	if !order.Total.Equal(decimal.NewFromInt(115)) {
		t.Fatalf("total = %s, want 115", order.Total)
	}

	if got := env.stockOf(t, caneca.ID); got != 8 {
		t.Fatalf("caneca stock = %d, want 8", got)
	}
	if got := env.stockOf(t, camiseta.ID); got != 4 {
		t.Fatalf("camiseta stock = %d, want 4", got)
	}

	var items []models.OrderItem
	if err := env.db.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	var eventCount int64
	env.db.Model(&models.OrderEvent{}).Where("order_id = ? AND event_type = ?", order.ID, enums.OrderEventCreated).Count(&eventCount)
	if eventCount != 1 {
		t.Fatalf("created events = %d, want 1", eventCount)
	}

	var outboxCount int64
	env.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCreated).Count(&outboxCount)
	if outboxCount != 1 {
		t.Fatalf("outbox order_created = %d, want 1", outboxCount)
	}
}

func TestCheckoutAppliesCoupon(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "livro", 100, 3)
	coupon := models.Coupon{
		ID:            uuid.New(),
		Code:          "DEZ10",
		DiscountType:  enums.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		Active:        true,
	}
	if err := env.db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	order, err := env.svc.Checkout(ctx, Input{
		CustomerPhone: "+5511988880000",
		Items:         []ItemInput{{ProductID: product.ID, Quantity: 1}},
		CouponCode:    "dez10",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if !order.Discount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("discount = %s, want 10", order.Discount)
	}
	if !order.Total.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("total = %s, want 90", order.Total)
	}
	if order.CouponCode == nil || *order.CouponCode != "DEZ10" {
		t.Fatalf("coupon code = %v", order.CouponCode)
	}

	var persisted models.Coupon
	if err := env.db.First(&persisted, "id = ?", coupon.ID).Error; err != nil {
		t.Fatalf("load coupon: %v", err)
	}
	if persisted.UsedCount != 1 {
		t.Fatalf("used_count = %d, want 1", persisted.UsedCount)
	}
}

func TestCheckoutInsufficientStockRollsBackEverything(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	plenty := env.seedProduct(t, "adesivo", 5, 100)
	scarce := env.seedProduct(t, "poster", 40, 1)

	_, err := env.svc.Checkout(ctx, Input{
		CustomerPhone: "+5511988880000",
		Items: []ItemInput{
			{ProductID: plenty.ID, Quantity: 3},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := env.stockOf(t, plenty.ID); got != 100 {
		t.Fatalf("plenty stock = %d, rollback failed", got)
	}
	if got := env.stockOf(t, scarce.ID); got != 1 {
		t.Fatalf("scarce stock = %d, rollback failed", got)
	}

	var orderCount int64
	env.db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Fatalf("orders = %d, want 0", orderCount)
	}
}

func TestCheckoutCouponFailureReleasesStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "chaveiro", 12, 6)

	_, err := env.svc.Checkout(ctx, Input{
		CustomerPhone: "+5511988880000",
		Items:         []ItemInput{{ProductID: product.ID, Quantity: 2}},
		CouponCode:    "NAOEXISTE",
	})
	if err == nil {
		t.Fatal("expected coupon error")
	}
	if got := env.stockOf(t, product.ID); got != 6 {
		t.Fatalf("stock = %d, want 6 after rollback", got)
	}
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "mochila", 200, 4)
	env.db.Model(&models.StoreProduct{}).Where("id = ?", product.ID).Update("active", false)

	_, err := env.svc.Checkout(ctx, Input{
		CustomerPhone: "+5511988880000",
		Items:         []ItemInput{{ProductID: product.ID, Quantity: 1}},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckoutValidatesInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input Input
	}{
		{"missing phone", Input{Items: []ItemInput{{ProductID: uuid.New(), Quantity: 1}}}},
		{"empty cart", Input{CustomerPhone: "+5511988880000"}},
		{"zero quantity", Input{CustomerPhone: "+5511988880000", Items: []ItemInput{{ProductID: uuid.New(), Quantity: 0}}}},
		{"negative shipping", Input{
			CustomerPhone: "+5511988880000",
			Items:         []ItemInput{{ProductID: uuid.New(), Quantity: 1}},
			ShippingCost:  decimal.NewFromInt(-1),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Checkout(ctx, tc.input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckoutUnknownProduct(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Checkout(ctx, Input{
		CustomerPhone: "+5511988880000",
		Items:         []ItemInput{{ProductID: uuid.New(), Quantity: 1}},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}
