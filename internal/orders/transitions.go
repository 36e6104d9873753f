package orders

import (
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
)

// allowedTransitions is the forward-only order lifecycle. Reverse moves are
// rejected outright; a shipped order can never return to paid.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusConfirmed,
		enums.OrderStatusAwaitingPayment,
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusAwaitingPayment,
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusAwaitingPayment: {
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusCancelled: {},
	enums.OrderStatusRefunded:  {},
}

// CanTransition reports whether moving from one status to another is legal.
// A same-status move is allowed and treated as a no-op by callers.
func CanTransition(from, to enums.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// restoresStock reports whether the transition returns reserved units to the
// shelf. Only cancellation before shipment does.
func restoresStock(from, to enums.OrderStatus) bool {
	if to != enums.OrderStatusCancelled {
		return false
	}
	switch from {
	case enums.OrderStatusPending, enums.OrderStatusConfirmed,
		enums.OrderStatusAwaitingPayment, enums.OrderStatusPaid:
		return true
	}
	return false
}

var outboxEventByStatus = map[enums.OrderStatus]enums.OutboxEventType{
	enums.OrderStatusConfirmed: enums.EventOrderConfirmed,
	enums.OrderStatusPaid:      enums.EventOrderPaid,
	enums.OrderStatusShipped:   enums.EventOrderShipped,
	enums.OrderStatusDelivered: enums.EventOrderDelivered,
	enums.OrderStatusCancelled: enums.EventOrderCancelled,
	enums.OrderStatusRefunded:  enums.EventOrderRefunded,
}
