package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/stock"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds an order lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error) {
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, total, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order stats")
	}
	return stats, nil
}

func (s *service) Events(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	events, err := s.repo.ListEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order events")
	}
	return events, nil
}

func (s *service) Confirm(ctx context.Context, id uuid.UUID, actor string) error {
	return s.transition(ctx, id, enums.OrderStatusConfirmed, actor, "")
}

func (s *service) MarkAwaitingPayment(ctx context.Context, id uuid.UUID, actor string) error {
	return s.transition(ctx, id, enums.OrderStatusAwaitingPayment, actor, "")
}

func (s *service) MarkPaid(ctx context.Context, id uuid.UUID, actor string) error {
	return s.transition(ctx, id, enums.OrderStatusPaid, actor, "")
}

func (s *service) Ship(ctx context.Context, id uuid.UUID, actor string, trackingCode *string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if trackingCode != nil {
			repo := s.repo.WithTx(tx)
			if err := repo.UpdateFields(ctx, id, map[string]any{"tracking_code": *trackingCode}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set tracking code")
			}
		}
		return s.TransitionTx(ctx, tx, id, enums.OrderStatusShipped, actor, "")
	})
}

func (s *service) Deliver(ctx context.Context, id uuid.UUID, actor string) error {
	return s.transition(ctx, id, enums.OrderStatusDelivered, actor, "")
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) error {
	return s.transition(ctx, id, enums.OrderStatusCancelled, actor, reason)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, target enums.OrderStatus, actor, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.TransitionTx(ctx, tx, id, target, actor, reason)
	})
}

// TransitionTx moves the order to target under a row lock. A same-status call
// is a no-op; an illegal move fails with the from/to pair in the details.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus, actor, reason string) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	from := order.Status
	if from == target {
		return nil
	}
	if !CanTransition(from, target) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition disallowed").
			WithDetails(map[string]string{"from": string(from), "to": string(target)})
	}

	now := time.Now()
	fields := map[string]any{"status": target}
	switch target {
	case enums.OrderStatusConfirmed:
		fields["confirmed_at"] = now
	case enums.OrderStatusPaid:
		fields["paid_at"] = now
		fields["payment_status"] = enums.OrderPaymentStatusPaid
	case enums.OrderStatusShipped:
		fields["shipped_at"] = now
	case enums.OrderStatusDelivered:
		fields["delivered_at"] = now
	case enums.OrderStatusCancelled:
		fields["cancelled_at"] = now
	case enums.OrderStatusRefunded:
		fields["payment_status"] = enums.OrderPaymentStatusRefunded
	}
	if err := repo.UpdateFields(ctx, id, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	stockRestored := false
	if restoresStock(from, target) {
		requests := stockRequests(order.Items)
		if len(requests) > 0 {
			if err := stock.Restore(ctx, tx, requests); err != nil {
				return err
			}
			stockRestored = true
			if err := repo.AppendEvent(ctx, &models.OrderEvent{
				OrderID:     id,
				EventType:   enums.OrderEventStockRestored,
				Description: "reserved stock returned after cancellation",
				Actor:       actorPtr(actor),
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock event")
			}
		}
	}

	description := fmt.Sprintf("status changed from %s to %s", from, target)
	if reason != "" {
		description = fmt.Sprintf("%s: %s", description, reason)
	}
	if err := repo.AppendEvent(ctx, &models.OrderEvent{
		OrderID:     id,
		EventType:   enums.OrderEventStatusChanged,
		Description: description,
		OldStatus:   &from,
		NewStatus:   &target,
		Actor:       actorPtr(actor),
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order event")
	}

	eventType, ok := outboxEventByStatus[target]
	if !ok {
		return nil
	}

	var data any
	if target == enums.OrderStatusCancelled {
		data = payloads.OrderCancelledEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Reason:        reason,
			StockRestored: stockRestored,
			CancelledAt:   now,
		}
	} else {
		data = payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			OldStatus:   from,
			NewStatus:   target,
			Actor:       actor,
			Reason:      reason,
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Version:       1,
		Data:          data,
	})
}

// SetPaymentStateTx updates the order-level payment rollup without touching
// the lifecycle status. Artifact pointers are only written when present.
func (s *service) SetPaymentStateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.OrderPaymentStatus, artifacts *PaymentArtifacts) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status")
	}
	repo := s.repo.WithTx(tx)

	fields := map[string]any{"payment_status": status}
	if artifacts != nil {
		if artifacts.PixQRCode != nil {
			fields["pix_qr_code"] = *artifacts.PixQRCode
		}
		if artifacts.BoletoTicketURL != nil {
			fields["boleto_ticket_url"] = *artifacts.BoletoTicketURL
		}
	}
	if err := repo.UpdateFields(ctx, id, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order payment state")
	}

	return repo.AppendEvent(ctx, &models.OrderEvent{
		OrderID:     id,
		EventType:   enums.OrderEventPaymentUpdate,
		Description: fmt.Sprintf("payment status set to %s", status),
	})
}

func (s *service) AddItem(ctx context.Context, id uuid.UUID, actor string, input ItemInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !itemsMutable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "items can only change while the order is pending or confirmed")
		}

		var product models.StoreProduct
		if err := tx.WithContext(ctx).Where("id = ?", input.ProductID).First(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}

		if err := stock.Reserve(ctx, tx, []stock.ReservationRequest{
			{ProductID: input.ProductID, Quantity: input.Quantity},
		}); err != nil {
			return err
		}

		unitPrice := product.Price
		item := models.OrderItem{
			OrderID:     id,
			ProductID:   &product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Quantity:    input.Quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  unitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))),
		}
		if err := repo.CreateItem(ctx, &item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order item")
		}

		if err := s.recomputeTotals(ctx, tx, order); err != nil {
			return err
		}

		return repo.AppendEvent(ctx, &models.OrderEvent{
			OrderID:     id,
			EventType:   enums.OrderEventItemAdded,
			Description: fmt.Sprintf("item %s x%d added", product.SKU, input.Quantity),
			Actor:       actorPtr(actor),
		})
	})
}

func (s *service) RemoveItem(ctx context.Context, orderID, itemID uuid.UUID, actor string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !itemsMutable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "items can only change while the order is pending or confirmed")
		}

		item, err := repo.FindItem(ctx, orderID, itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
		}
		if len(order.Items) <= 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order must keep at least one item")
		}

		if err := repo.DeleteItem(ctx, orderID, itemID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order item")
		}

		if item.ProductID != nil {
			if err := stock.Restore(ctx, tx, []stock.ReservationRequest{
				{ProductID: *item.ProductID, Quantity: item.Quantity},
			}); err != nil {
				return err
			}
		}

		if err := s.recomputeTotals(ctx, tx, order); err != nil {
			return err
		}

		return repo.AppendEvent(ctx, &models.OrderEvent{
			OrderID:     orderID,
			EventType:   enums.OrderEventItemRemoved,
			Description: fmt.Sprintf("item %s x%d removed", item.SKU, item.Quantity),
			Actor:       actorPtr(actor),
		})
	})
}

func (s *service) AddNote(ctx context.Context, id uuid.UUID, actor, note string, internal bool) error {
	if note == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "note is required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		column := "notes"
		if internal {
			column = "internal_notes"
		}
		if err := repo.UpdateFields(ctx, id, map[string]any{column: note}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order note")
		}
		return repo.AppendEvent(ctx, &models.OrderEvent{
			OrderID:     id,
			EventType:   enums.OrderEventNote,
			Description: note,
			Actor:       actorPtr(actor),
		})
	})
}

// Archive hides the order from listings. Deliberately independent from the
// lifecycle status so cancelled and delivered orders can both be archived.
func (s *service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		return repo.UpdateFields(ctx, id, map[string]any{"archived": true})
	})
}

func (s *service) recomputeTotals(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	var subtotal decimal.NullDecimal
	err := tx.WithContext(ctx).Model(&models.OrderItem{}).
		Select("SUM(total_price)").
		Where("order_id = ?", order.ID).
		Scan(&subtotal).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum order items")
	}

	sub := decimal.Zero
	if subtotal.Valid {
		sub = subtotal.Decimal
	}
	discount := order.Discount
	if discount.GreaterThan(sub) {
		discount = sub
	}
	total := sub.Sub(discount).Add(order.ShippingCost).Add(order.Tax)

	return s.repo.WithTx(tx).UpdateFields(ctx, order.ID, map[string]any{
		"subtotal": sub,
		"discount": discount,
		"total":    total,
	})
}

func stockRequests(items []models.OrderItem) []stock.ReservationRequest {
	requests := make([]stock.ReservationRequest, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		requests = append(requests, stock.ReservationRequest{
			ProductID: *item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return requests
}

func actorPtr(actor string) *string {
	if actor == "" {
		return nil
	}
	return &actor
}

// itemsMutable reports whether the item set can still change. Once an order
// moves past CONFIRMED the totals are settled for payment.
func itemsMutable(status enums.OrderStatus) bool {
	return status == enums.OrderStatusPending || status == enums.OrderStatusConfirmed
}
