package enums

import "fmt"

// OrderEventType classifies entries in an order's audit trail.
type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "created"
	OrderEventStatusChanged OrderEventType = "status_changed"
	OrderEventItemAdded     OrderEventType = "item_added"
	OrderEventItemRemoved   OrderEventType = "item_removed"
	OrderEventPaymentUpdate OrderEventType = "payment_update"
	OrderEventStockRestored OrderEventType = "stock_restored"
	OrderEventNote          OrderEventType = "note"
)

var validOrderEventTypes = []OrderEventType{
	OrderEventCreated,
	OrderEventStatusChanged,
	OrderEventItemAdded,
	OrderEventItemRemoved,
	OrderEventPaymentUpdate,
	OrderEventStockRestored,
	OrderEventNote,
}

// IsValid reports whether the value is a known OrderEventType.
func (o OrderEventType) IsValid() bool {
	for _, candidate := range validOrderEventTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderEventType converts raw input into an OrderEventType.
func ParseOrderEventType(value string) (OrderEventType, error) {
	for _, candidate := range validOrderEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order event type %q", value)
}
