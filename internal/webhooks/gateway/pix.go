package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

// pixAdapter handles direct PIX PSP callbacks. The end-to-end id is the
// deduplication key; the txid links back to the payment.
type pixAdapter struct {
	secret string
}

type pixPayload struct {
	EndToEndID string `json:"endToEndId"`
	TxID       string `json:"txid"`
	Status     string `json:"status"`
	Valor      string `json:"valor"`
	Devolucao  *struct {
		Valor string `json:"valor"`
	} `json:"devolucao"`
}

func (a *pixAdapter) Gateway() enums.Gateway {
	return enums.GatewayPix
}

func (a *pixAdapter) VerifySignature(payload []byte, headers http.Header) error {
	return verifyHMAC(payload, a.secret, headers.Get("X-Pix-Signature"))
}

func (a *pixAdapter) Parse(payload []byte) (*Event, error) {
	var body pixPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode pix payload")
	}
	if body.TxID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pix txid missing")
	}

	event := &Event{
		EventID:    body.EndToEndID,
		EventType:  "pix." + strings.ToLower(body.Status),
		ExternalID: body.TxID,
	}
	if event.EventID == "" {
		event.EventID = body.TxID + ":" + strings.ToLower(body.Status)
	}

	switch strings.ToUpper(body.Status) {
	case "CONCLUIDA":
		event.Action = ActionComplete
	case "DEVOLVIDA":
		event.Action = ActionRefund
		if body.Devolucao != nil && body.Devolucao.Valor != "" {
			if amount, err := decimal.NewFromString(body.Devolucao.Valor); err == nil && amount.IsPositive() {
				event.RefundAmount = &amount
			}
		}
	case "REMOVIDA_PELO_USUARIO_RECEBEDOR", "REMOVIDA_PELO_PSP":
		event.Action = ActionCancel
	default:
		// ATIVA and anything unknown: acknowledged, nothing to do.
		event.Action = ActionIgnore
	}
	return event, nil
}
