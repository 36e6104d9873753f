package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// ListFilter narrows order listings.
type ListFilter struct {
	Status          *enums.OrderStatus
	PaymentStatus   *enums.OrderPaymentStatus
	CustomerEmail   *string
	IncludeArchived bool
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Limit           int
	Offset          int
}

// Stats aggregates order counts and revenue for the dashboard surface.
type Stats struct {
	TotalOrders   int64                       `json:"total_orders"`
	ByStatus      map[enums.OrderStatus]int64 `json:"by_status"`
	TotalRevenue  decimal.Decimal             `json:"total_revenue"`
	PendingOrders int64                       `json:"pending_orders"`
}

// Repository is the persistence surface for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error)
	Stats(ctx context.Context) (*Stats, error)

	AppendEvent(ctx context.Context, event *models.OrderEvent) error
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)

	CreateItem(ctx context.Context, item *models.OrderItem) error
	DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) error
	FindItem(ctx context.Context, orderID, itemID uuid.UUID) (*models.OrderItem, error)
}

// ItemInput describes a product line added to an existing order.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// Service defines order lifecycle operations.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error)
	Stats(ctx context.Context) (*Stats, error)
	Events(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)

	Confirm(ctx context.Context, id uuid.UUID, actor string) error
	MarkAwaitingPayment(ctx context.Context, id uuid.UUID, actor string) error
	MarkPaid(ctx context.Context, id uuid.UUID, actor string) error
	Ship(ctx context.Context, id uuid.UUID, actor string, trackingCode *string) error
	Deliver(ctx context.Context, id uuid.UUID, actor string) error
	Cancel(ctx context.Context, id uuid.UUID, actor, reason string) error

	AddItem(ctx context.Context, id uuid.UUID, actor string, input ItemInput) error
	RemoveItem(ctx context.Context, orderID, itemID uuid.UUID, actor string) error
	AddNote(ctx context.Context, id uuid.UUID, actor, note string, internal bool) error
	Archive(ctx context.Context, id uuid.UUID) error

	// TransitionTx drives the state machine inside an existing transaction.
	// Used by payment reconciliation so order and payment move together.
	TransitionTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus, actor, reason string) error
	// SetPaymentStateTx syncs the order-level payment rollup and artifacts.
	SetPaymentStateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.OrderPaymentStatus, artifacts *PaymentArtifacts) error
}

// PaymentArtifacts are customer-facing payment pointers copied onto the order.
type PaymentArtifacts struct {
	PixQRCode       *string
	BoletoTicketURL *string
}
