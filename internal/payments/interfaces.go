package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/mercadopago"
)

// Repository is the persistence surface for payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	SumRefundedByOrder(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
}

// CreateInput describes a new payment attempt for an order.
type CreateInput struct {
	OrderID       uuid.UUID
	Method        enums.PaymentMethod
	PayerName     string
	PayerEmail    string
	PayerDocument string
	CardToken     string
	Installments  int
}

// CompleteInput carries the gateway-confirmed completion facts.
type CompleteInput struct {
	PaidAt          *time.Time
	Fee             *decimal.Decimal
	GatewayResponse []byte
}

// FailInput carries the gateway rejection details.
type FailInput struct {
	ErrorCode       string
	ErrorMessage    string
	GatewayResponse []byte
}

// Service defines payment lifecycle operations. The Tx variants run inside a
// caller-owned transaction so payment and order state move together.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*models.Payment, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*models.Payment, error)

	CompleteTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input CompleteInput) error
	FailTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input FailInput) error
	CancelTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) error
	ExpireTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) error
	ApplyRefundTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, amount decimal.Decimal) error
}

// orderTransitioner is the slice of the orders service payments drive.
type orderTransitioner interface {
	TransitionTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus, actor, reason string) error
	SetPaymentStateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.OrderPaymentStatus, artifacts *orders.PaymentArtifacts) error
}

// gatewayClient is the slice of the Mercado Pago client the service uses.
type gatewayClient interface {
	CreatePayment(ctx context.Context, req mercadopago.CreatePaymentRequest) (*mercadopago.Payment, error)
	GetPayment(ctx context.Context, externalID string) (*mercadopago.Payment, error)
	RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) (*mercadopago.Refund, error)
}
