package enums

import "fmt"

// NotificationType classifies customer-facing notifications.
type NotificationType string

const (
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypePayment NotificationType = "payment"
	NotificationTypeRefund  NotificationType = "refund"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrder,
	NotificationTypePayment,
	NotificationTypeRefund,
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if n == candidate {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type: %q", value)
}
