package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

type stripeAdapter struct {
	secret string
}

type stripePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			PaymentIntent    string `json:"payment_intent"`
			AmountRefunded   int64  `json:"amount_refunded"`
			LastPaymentError *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

func (a *stripeAdapter) Gateway() enums.Gateway {
	return enums.GatewayStripe
}

func (a *stripeAdapter) VerifySignature(payload []byte, headers http.Header) error {
	return verifyHMAC(payload, a.secret, headers.Get("Stripe-Signature"))
}

func (a *stripeAdapter) Parse(payload []byte) (*Event, error) {
	var body stripePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe payload")
	}
	if body.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id missing")
	}

	externalID := body.Data.Object.ID
	if body.Data.Object.PaymentIntent != "" {
		externalID = body.Data.Object.PaymentIntent
	}
	event := &Event{
		EventID:    body.ID,
		EventType:  body.Type,
		ExternalID: externalID,
	}

	switch body.Type {
	case "payment_intent.succeeded":
		event.Action = ActionComplete
	case "payment_intent.payment_failed":
		event.Action = ActionFail
		if e := body.Data.Object.LastPaymentError; e != nil {
			event.ErrorCode = e.Code
			event.ErrorMessage = e.Message
		}
	case "payment_intent.canceled":
		event.Action = ActionCancel
	case "charge.refunded":
		event.Action = ActionRefund
		if body.Data.Object.AmountRefunded > 0 {
			// Stripe reports cents.
			amount := decimal.NewFromInt(body.Data.Object.AmountRefunded).Div(decimal.NewFromInt(100))
			event.RefundAmount = &amount
		}
	default:
		event.Action = ActionIgnore
	}
	return event, nil
}
