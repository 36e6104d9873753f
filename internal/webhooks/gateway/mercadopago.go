package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

// mercadoPagoAdapter handles Mercado Pago IPN deliveries. Those payloads only
// reference the payment; the status has to be reconciled via the API.
type mercadoPagoAdapter struct {
	secret string
}

type mercadoPagoPayload struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *mercadoPagoAdapter) Gateway() enums.Gateway {
	return enums.GatewayMercadoPago
}

func (a *mercadoPagoAdapter) VerifySignature(payload []byte, headers http.Header) error {
	return verifyHMAC(payload, a.secret, headers.Get("X-Signature"))
}

func (a *mercadoPagoAdapter) Parse(payload []byte) (*Event, error) {
	var body mercadoPagoPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode mercadopago payload")
	}

	event := &Event{
		EventType:  body.Action,
		ExternalID: strings.TrimSpace(body.Data.ID),
	}
	if body.ID != 0 {
		event.EventID = strconv.FormatInt(body.ID, 10)
	} else {
		event.EventID = body.Action + ":" + event.ExternalID
	}

	if body.Type != "payment" || event.ExternalID == "" {
		event.Action = ActionIgnore
		return event, nil
	}
	event.Action = ActionReconcile
	return event, nil
}
