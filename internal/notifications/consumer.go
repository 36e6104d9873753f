package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox/idempotency"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

// Consumer watches domain events and turns order and payment milestones into
// customer notifications.
type Consumer struct {
	repo         Repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo Repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := c.buildNotification(eventType, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	if notification == nil {
		c.logg.Info(logCtx, "event type not notified")
		return processResult{ack: true}
	}

	now := time.Now()
	notification.SentAt = &now
	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithOrderID(logCtx, notification.OrderID.String()), "customer notified")
	return processResult{ack: true}
}

// buildNotification maps a domain event to the customer message, or nil when
// the event carries nothing the customer needs to hear about.
func (c *Consumer) buildNotification(eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case enums.EventOrderCreated:
		var payload payloads.OrderCreatedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		n := &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypeOrder,
			Title:   "Pedido recebido",
			Message: fmt.Sprintf("Recebemos o pedido %s no valor de R$ %s.", payload.OrderNumber, payload.Total.StringFixed(2)),
		}
		if payload.CustomerEmail != "" {
			n.Recipient = &payload.CustomerEmail
		}
		return n, nil

	case enums.EventOrderShipped:
		var payload payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypeOrder,
			Title:   "Pedido enviado",
			Message: fmt.Sprintf("O pedido %s foi enviado.", payload.OrderNumber),
		}, nil

	case enums.EventOrderDelivered:
		var payload payloads.OrderStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypeOrder,
			Title:   "Pedido entregue",
			Message: fmt.Sprintf("O pedido %s foi entregue.", payload.OrderNumber),
		}, nil

	case enums.EventOrderCancelled:
		var payload payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		message := fmt.Sprintf("O pedido %s foi cancelado.", payload.OrderNumber)
		if payload.Reason != "" {
			message = fmt.Sprintf("O pedido %s foi cancelado: %s.", payload.OrderNumber, payload.Reason)
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypeOrder,
			Title:   "Pedido cancelado",
			Message: message,
		}, nil

	case enums.EventPaymentCompleted:
		var payload payloads.PaymentCompletedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypePayment,
			Title:   "Pagamento aprovado",
			Message: fmt.Sprintf("O pagamento do pedido %s foi aprovado.", payload.OrderNumber),
		}, nil

	case enums.EventPaymentFailed:
		var payload payloads.PaymentFailedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypePayment,
			Title:   "Pagamento recusado",
			Message: "O pagamento foi recusado. Tente novamente com outro meio de pagamento.",
		}, nil

	case enums.EventPaymentExpired:
		var payload payloads.PaymentExpiredEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypePayment,
			Title:   "Pagamento expirado",
			Message: "O prazo de pagamento expirou. Refaça o pedido para gerar uma nova cobrança.",
		}, nil

	case enums.EventPaymentRefunded:
		var payload payloads.PaymentRefundedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OrderID: payload.OrderID,
			Type:    enums.NotificationTypeRefund,
			Title:   "Reembolso processado",
			Message: fmt.Sprintf("Um reembolso de R$ %s foi processado.", payload.Amount.StringFixed(2)),
		}, nil

	default:
		return nil, nil
	}
}
