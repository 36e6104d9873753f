package enums

import "fmt"

// WebhookStatus tracks the processing state of an inbound gateway event.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusCompleted  WebhookStatus = "completed"
	WebhookStatusFailed     WebhookStatus = "failed"
	WebhookStatusDuplicate  WebhookStatus = "duplicate"
	WebhookStatusIgnored    WebhookStatus = "ignored"
)

var validWebhookStatuses = []WebhookStatus{
	WebhookStatusPending,
	WebhookStatusProcessing,
	WebhookStatusCompleted,
	WebhookStatusFailed,
	WebhookStatusDuplicate,
	WebhookStatusIgnored,
}

// String implements fmt.Stringer.
func (w WebhookStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WebhookStatus.
func (w WebhookStatus) IsValid() bool {
	for _, candidate := range validWebhookStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWebhookStatus converts raw input into a WebhookStatus.
func ParseWebhookStatus(value string) (WebhookStatus, error) {
	for _, candidate := range validWebhookStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook status %q", value)
}
