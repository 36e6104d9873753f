package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateWebhook OutboxAggregateType = "webhook_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateWebhook,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated     OutboxEventType = "order_created"
	EventOrderConfirmed   OutboxEventType = "order_confirmed"
	EventOrderPaid        OutboxEventType = "order_paid"
	EventOrderShipped     OutboxEventType = "order_shipped"
	EventOrderDelivered   OutboxEventType = "order_delivered"
	EventOrderCancelled   OutboxEventType = "order_cancelled"
	EventOrderRefunded    OutboxEventType = "order_refunded"
	EventPaymentCreated   OutboxEventType = "payment_created"
	EventPaymentCompleted OutboxEventType = "payment_completed"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventPaymentExpired   OutboxEventType = "payment_expired"
	EventPaymentRefunded  OutboxEventType = "payment_refunded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderConfirmed,
	EventOrderPaid,
	EventOrderShipped,
	EventOrderDelivered,
	EventOrderCancelled,
	EventOrderRefunded,
	EventPaymentCreated,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentExpired,
	EventPaymentRefunded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
