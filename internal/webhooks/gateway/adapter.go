package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

// Action is the normalized instruction a webhook payload maps to.
type Action string

const (
	// ActionComplete marks the referenced payment completed.
	ActionComplete Action = "complete"
	// ActionFail records a gateway rejection.
	ActionFail Action = "fail"
	// ActionCancel cancels a still-pending payment.
	ActionCancel Action = "cancel"
	// ActionRefund books a refund against the payment.
	ActionRefund Action = "refund"
	// ActionReconcile means the payload carries no status; the authoritative
	// state must be pulled from the gateway API.
	ActionReconcile Action = "reconcile"
	// ActionIgnore acknowledges the delivery without touching anything.
	ActionIgnore Action = "ignore"
)

// Event is the gateway-agnostic view of an inbound delivery.
type Event struct {
	EventID    string
	EventType  string
	ExternalID string
	Action     Action

	// RefundAmount is set only for refund actions that name an amount; nil
	// means refund whatever remains.
	RefundAmount *decimal.Decimal

	ErrorCode    string
	ErrorMessage string
}

// Adapter verifies and decodes deliveries for one payment gateway.
type Adapter interface {
	Gateway() enums.Gateway
	VerifySignature(payload []byte, headers http.Header) error
	Parse(payload []byte) (*Event, error)
}

// Registry holds the configured adapters keyed by gateway.
type Registry struct {
	adapters map[enums.Gateway]Adapter
}

// NewRegistry wires one adapter per supported gateway using the configured
// signing secrets.
func NewRegistry(cfg config.WebhooksConfig) *Registry {
	return &Registry{adapters: map[enums.Gateway]Adapter{
		enums.GatewayMercadoPago: &mercadoPagoAdapter{secret: cfg.MercadoPagoSecret},
		enums.GatewayStripe:      &stripeAdapter{secret: cfg.StripeSecret},
		enums.GatewayPix:         &pixAdapter{secret: cfg.PixSecret},
	}}
}

// Lookup resolves the adapter for a gateway path segment.
func (r *Registry) Lookup(name string) (Adapter, error) {
	gw, err := enums.ParseGateway(name)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway")
	}
	adapter, ok := r.adapters[gw]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway")
	}
	return adapter, nil
}

// verifyHMAC checks a hex-encoded HMAC-SHA256 of the raw payload in constant
// time.
func verifyHMAC(payload []byte, secret, signature string) error {
	if secret == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook secret not configured")
	}
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "signature missing")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid signature")
	}
	return nil
}
