package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/mercadopago"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubGateway struct {
	createResp *mercadopago.Payment
	createErr  error
	getResp    *mercadopago.Payment
	refunded   []decimal.Decimal
}

func (g *stubGateway) CreatePayment(_ context.Context, _ mercadopago.CreatePaymentRequest) (*mercadopago.Payment, error) {
	return g.createResp, g.createErr
}

func (g *stubGateway) GetPayment(_ context.Context, _ string) (*mercadopago.Payment, error) {
	return g.getResp, nil
}

func (g *stubGateway) RefundPayment(_ context.Context, _ string, amount *decimal.Decimal) (*mercadopago.Refund, error) {
	if amount != nil {
		g.refunded = append(g.refunded, *amount)
	}
	return &mercadopago.Refund{ID: 1, Status: "approved"}, nil
}

type testEnv struct {
	db      *gorm.DB
	svc     Service
	gateway *stubGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.OrderEvent{},
		&models.StoreProduct{}, &models.OutboxEvent{}, &models.Payment{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tx := &testTxRunner{db: db}
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	orderSvc, err := orders.NewService(orders.NewRepository(db), tx, outboxSvc)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}

	gateway := &stubGateway{}
	svc, err := NewService(NewRepository(db), tx, outboxSvc, orderSvc, gateway, config.MercadoPagoConfig{
		PixExpiry:    30 * time.Minute,
		BoletoExpiry: 72 * time.Hour,
	})
	if err != nil {
		t.Fatalf("payments service: %v", err)
	}
	return &testEnv{db: db, svc: svc, gateway: gateway}
}

func (e *testEnv) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20250801-" + uuid.NewString()[:6],
		CustomerPhone: "+5511988880000",
		Status:        status,
		PaymentStatus: enums.OrderPaymentStatusPending,
		Subtotal:      decimal.NewFromInt(150),
		Total:         decimal.NewFromInt(150),
	}
	if err := e.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func (e *testEnv) seedPayment(t *testing.T, orderID uuid.UUID, status enums.PaymentStatus) *models.Payment {
	t.Helper()
	external := "mp-" + uuid.NewString()[:8]
	payment := models.Payment{
		ID:         uuid.New(),
		PaymentID:  "PAY-20250801-" + uuid.NewString()[:6],
		OrderID:    orderID,
		ExternalID: &external,
		Gateway:    enums.GatewayMercadoPago,
		Status:     status,
		Method:     enums.PaymentMethodPix,
		Amount:     decimal.NewFromInt(150),
	}
	if err := e.db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return &payment
}

func (e *testEnv) loadPayment(t *testing.T, id uuid.UUID) *models.Payment {
	t.Helper()
	var payment models.Payment
	if err := e.db.First(&payment, "id = ?", id).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return &payment
}

func (e *testEnv) loadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := e.db.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return &order
}

func (e *testEnv) countOutbox(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	err := e.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return count
}

func (e *testEnv) inTx(t *testing.T, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return e.db.Transaction(fn)
}

func TestCreatePixPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending)
	env.gateway.createResp = &mercadopago.Payment{
		ID:     987654,
		Status: "pending",
	}
	env.gateway.createResp.PointOfInteraction.TransactionData = mercadopago.TransactionData{
		QRCode:       "00020126PIXDATA",
		QRCodeBase64: "cGl4",
	}

	payment, err := env.svc.Create(ctx, CreateInput{
		OrderID:    order.ID,
		Method:     enums.PaymentMethodPix,
		PayerEmail: "comprador@example.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if payment.ExternalID == nil || *payment.ExternalID != "987654" {
		t.Fatalf("external id = %v, want 987654", payment.ExternalID)
	}
	if payment.QRCode == nil || *payment.QRCode != "00020126PIXDATA" {
		t.Fatalf("qr code missing: %+v", payment.QRCode)
	}
	if payment.ExpiresAt == nil {
		t.Fatal("pix payment should carry an expiry")
	}
	if !payment.Amount.Equal(order.Total) {
		t.Fatalf("amount = %s, want %s", payment.Amount, order.Total)
	}

	persisted := env.loadOrder(t, order.ID)
	if persisted.Status != enums.OrderStatusAwaitingPayment {
		t.Fatalf("order status = %s, want awaiting_payment", persisted.Status)
	}
	if persisted.PixQRCode == nil || *persisted.PixQRCode != "00020126PIXDATA" {
		t.Fatal("pix artifact not copied to order")
	}
	if got := env.countOutbox(t, enums.EventPaymentCreated); got != 1 {
		t.Fatalf("outbox payment_created = %d, want 1", got)
	}
}

func TestCreateCardPaymentApprovedSynchronously(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusConfirmed)
	env.gateway.createResp = &mercadopago.Payment{ID: 555, Status: "approved"}

	payment, err := env.svc.Create(ctx, CreateInput{
		OrderID:    order.ID,
		Method:     enums.PaymentMethodCard,
		PayerEmail: "comprador@example.com",
		CardToken:  "tok_test",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want completed", persisted.Status)
	}
	if env.loadOrder(t, order.ID).Status != enums.OrderStatusPaid {
		t.Fatal("order should be paid after synchronous approval")
	}
}

func TestCreateRejectsUnpayableOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusCancelled)

	_, err := env.svc.Create(ctx, CreateInput{
		OrderID:    order.ID,
		Method:     enums.PaymentMethodPix,
		PayerEmail: "comprador@example.com",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	fee := decimal.NewFromFloat(4.50)
	for i := 0; i < 2; i++ {
		err := env.inTx(t, func(tx *gorm.DB) error {
			return env.svc.CompleteTx(ctx, tx, payment.ID, CompleteInput{Fee: &fee})
		})
		if err != nil {
			t.Fatalf("complete attempt %d: %v", i+1, err)
		}
	}

	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusCompleted {
		t.Fatalf("status = %s, want completed", persisted.Status)
	}
	if !persisted.NetAmount.Equal(decimal.NewFromFloat(145.50)) {
		t.Fatalf("net = %s, want 145.50", persisted.NetAmount)
	}
	if persisted.PaidAt == nil {
		t.Fatal("paid_at not set")
	}

	if got := env.countOutbox(t, enums.EventPaymentCompleted); got != 1 {
		t.Fatalf("outbox payment_completed = %d, want 1 (idempotent)", got)
	}
	if env.loadOrder(t, order.ID).Status != enums.OrderStatusPaid {
		t.Fatal("order not paid")
	}
}

func TestFailNeverRegressesCompleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.CompleteTx(ctx, tx, payment.ID, CompleteInput{})
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	err = env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.FailTx(ctx, tx, payment.ID, FailInput{ErrorCode: "cc_rejected"})
	})
	if err != nil {
		t.Fatalf("fail after complete: %v", err)
	}

	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusCompleted {
		t.Fatalf("status = %s, completed must not regress", persisted.Status)
	}
	if got := env.countOutbox(t, enums.EventPaymentFailed); got != 0 {
		t.Fatalf("outbox payment_failed = %d, want 0", got)
	}
}

func TestFailUpdatesOrderRollup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.FailTx(ctx, tx, payment.ID, FailInput{
			ErrorCode:    "cc_rejected_insufficient_amount",
			ErrorMessage: "insufficient funds",
		})
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}

	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusFailed {
		t.Fatalf("status = %s, want failed", persisted.Status)
	}
	if persisted.ErrorCode == nil || *persisted.ErrorCode != "cc_rejected_insufficient_amount" {
		t.Fatal("error code not recorded")
	}
	if env.loadOrder(t, order.ID).PaymentStatus != enums.OrderPaymentStatusFailed {
		t.Fatal("order payment rollup not failed")
	}
}

func TestApplyRefundBounds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.CompleteTx(ctx, tx, payment.ID, CompleteInput{})
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Partial refund.
	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ApplyRefundTx(ctx, tx, payment.ID, decimal.NewFromInt(50))
	}); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusPartiallyRefunded {
		t.Fatalf("status = %s, want partially_refunded", persisted.Status)
	}
	if env.loadOrder(t, order.ID).PaymentStatus != enums.OrderPaymentStatusPartiallyRefunded {
		t.Fatal("order rollup not partially_refunded")
	}

	// Refund beyond the captured amount is rejected.
	err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ApplyRefundTx(ctx, tx, payment.ID, decimal.NewFromInt(200))
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}

	// Remaining amount completes the refund and flips the order.
	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ApplyRefundTx(ctx, tx, payment.ID, decimal.NewFromInt(100))
	}); err != nil {
		t.Fatalf("full refund: %v", err)
	}
	persisted = env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusRefunded {
		t.Fatalf("status = %s, want refunded", persisted.Status)
	}
	if !persisted.RefundedAmount.Equal(persisted.Amount) {
		t.Fatalf("refunded = %s, want %s", persisted.RefundedAmount, persisted.Amount)
	}
	finalOrder := env.loadOrder(t, order.ID)
	if finalOrder.Status != enums.OrderStatusRefunded {
		t.Fatalf("order status = %s, want refunded", finalOrder.Status)
	}
	if got := env.countOutbox(t, enums.EventPaymentRefunded); got != 2 {
		t.Fatalf("outbox payment_refunded = %d, want 2", got)
	}
}

func TestRefundRollupSumsAcrossPayments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)

	// Split capture: two attempts covering the 150 total.
	first := env.seedPayment(t, order.ID, enums.PaymentStatusPending)
	second := env.seedPayment(t, order.ID, enums.PaymentStatusPending)
	for id, amount := range map[uuid.UUID]int64{first.ID: 100, second.ID: 50} {
		err := env.db.Model(&models.Payment{}).Where("id = ?", id).
			Update("amount", decimal.NewFromInt(amount)).Error
		if err != nil {
			t.Fatalf("set amount: %v", err)
		}
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		if err := env.inTx(t, func(tx *gorm.DB) error {
			return env.svc.CompleteTx(ctx, tx, id, CompleteInput{})
		}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	// Refunding one payment in full still leaves the order short.
	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ApplyRefundTx(ctx, tx, first.ID, decimal.NewFromInt(100))
	}); err != nil {
		t.Fatalf("refund first: %v", err)
	}
	if env.loadPayment(t, first.ID).Status != enums.PaymentStatusRefunded {
		t.Fatal("first payment should be fully refunded")
	}
	after := env.loadOrder(t, order.ID)
	if after.Status == enums.OrderStatusRefunded {
		t.Fatal("order refunded while 50 of the total is still captured")
	}
	if after.PaymentStatus != enums.OrderPaymentStatusPartiallyRefunded {
		t.Fatalf("order payment status = %s, want partially_refunded", after.PaymentStatus)
	}

	// The second refund brings the order sum to the total.
	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ApplyRefundTx(ctx, tx, second.ID, decimal.NewFromInt(50))
	}); err != nil {
		t.Fatalf("refund second: %v", err)
	}
	if env.loadOrder(t, order.ID).Status != enums.OrderStatusRefunded {
		t.Fatal("order not refunded once every payment is refunded")
	}
}

func TestExpireFailsPendingPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ExpireTx(ctx, tx, payment.ID)
	}); err != nil {
		t.Fatalf("expire: %v", err)
	}

	persisted := env.loadPayment(t, payment.ID)
	if persisted.Status != enums.PaymentStatusFailed {
		t.Fatalf("status = %s, want failed", persisted.Status)
	}
	if persisted.ErrorCode == nil || *persisted.ErrorCode != "expired" {
		t.Fatal("expiry reason not recorded")
	}
	if env.loadOrder(t, order.ID).PaymentStatus != enums.OrderPaymentStatusFailed {
		t.Fatal("order payment rollup not failed after expiry")
	}
	if got := env.countOutbox(t, enums.EventPaymentExpired); got != 1 {
		t.Fatalf("outbox payment_expired = %d, want 1", got)
	}

	// Expiring again is a no-op.
	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ExpireTx(ctx, tx, payment.ID)
	}); err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if got := env.countOutbox(t, enums.EventPaymentExpired); got != 1 {
		t.Fatalf("outbox payment_expired = %d after replay, want 1", got)
	}
}

func TestExpireLeavesSucceededOrderRollupAlone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	first := env.seedPayment(t, order.ID, enums.PaymentStatusPending)
	stale := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.CompleteTx(ctx, tx, first.ID, CompleteInput{})
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.ExpireTx(ctx, tx, stale.ID)
	}); err != nil {
		t.Fatalf("expire: %v", err)
	}

	if env.loadPayment(t, stale.ID).Status != enums.PaymentStatusFailed {
		t.Fatal("stale attempt should fail")
	}
	if env.loadOrder(t, order.ID).PaymentStatus != enums.OrderPaymentStatusPaid {
		t.Fatal("paid order rollup must not regress on a stale expiry")
	}
}

func TestCompleteForCancelledOrderLeavesOrderAlone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusCancelled)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.CompleteTx(ctx, tx, payment.ID, CompleteInput{})
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if env.loadPayment(t, payment.ID).Status != enums.PaymentStatusCompleted {
		t.Fatal("payment should record completion")
	}
	if env.loadOrder(t, order.ID).Status != enums.OrderStatusCancelled {
		t.Fatal("cancelled order must stay cancelled")
	}
}

func TestRefundCallsGateway(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusAwaitingPayment)
	payment := env.seedPayment(t, order.ID, enums.PaymentStatusPending)

	if err := env.inTx(t, func(tx *gorm.DB) error {
		return env.svc.CompleteTx(ctx, tx, payment.ID, CompleteInput{})
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	refunded, err := env.svc.Refund(ctx, payment.ID, nil)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != enums.PaymentStatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	if len(env.gateway.refunded) != 1 || !env.gateway.refunded[0].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("gateway refund calls = %v", env.gateway.refunded)
	}
}
