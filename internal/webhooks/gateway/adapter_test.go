package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/config"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func testRegistry() *Registry {
	return NewRegistry(config.WebhooksConfig{
		MercadoPagoSecret: "mp-secret",
		StripeSecret:      "stripe-secret",
		PixSecret:         "pix-secret",
	})
}

func TestLookupUnknownGateway(t *testing.T) {
	t.Parallel()

	_, err := testRegistry().Lookup("paypal")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignatureVerification(t *testing.T) {
	t.Parallel()

	adapter, err := testRegistry().Lookup("mercadopago")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	payload := []byte(`{"id":1,"type":"payment","data":{"id":"42"}}`)

	headers := http.Header{}
	headers.Set("X-Signature", sign(payload, "mp-secret"))
	if err := adapter.VerifySignature(payload, headers); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	headers.Set("X-Signature", sign(payload, "wrong-secret"))
	err = adapter.VerifySignature(payload, headers)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("unexpected error: %v", err)
	}

	headers.Del("X-Signature")
	if err := adapter.VerifySignature(payload, headers); err == nil {
		t.Fatal("missing signature accepted")
	}
}

func TestMercadoPagoParse(t *testing.T) {
	t.Parallel()

	adapter, _ := testRegistry().Lookup("mercadopago")

	event, err := adapter.Parse([]byte(`{"id":12345,"type":"payment","action":"payment.updated","data":{"id":"987654"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventID != "12345" {
		t.Fatalf("event id = %q", event.EventID)
	}
	if event.ExternalID != "987654" {
		t.Fatalf("external id = %q", event.ExternalID)
	}
	if event.Action != ActionReconcile {
		t.Fatalf("action = %s, want reconcile", event.Action)
	}

	// Non-payment topics are acknowledged and dropped.
	event, err = adapter.Parse([]byte(`{"id":99,"type":"plan","action":"plan.updated","data":{"id":"7"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionIgnore {
		t.Fatalf("action = %s, want ignore", event.Action)
	}
}

func TestStripeParse(t *testing.T) {
	t.Parallel()

	adapter, _ := testRegistry().Lookup("stripe")

	event, err := adapter.Parse([]byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionComplete || event.ExternalID != "pi_1" {
		t.Fatalf("event = %+v", event)
	}

	event, err = adapter.Parse([]byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","last_payment_error":{"code":"card_declined","message":"declined"}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionFail || event.ErrorCode != "card_declined" {
		t.Fatalf("event = %+v", event)
	}

	event, err = adapter.Parse([]byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","payment_intent":"pi_3","amount_refunded":2550}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionRefund || event.ExternalID != "pi_3" {
		t.Fatalf("event = %+v", event)
	}
	if event.RefundAmount == nil || !event.RefundAmount.Equal(decimal.NewFromFloat(25.50)) {
		t.Fatalf("refund amount = %v, want 25.50", event.RefundAmount)
	}

	event, err = adapter.Parse([]byte(`{"id":"evt_4","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionIgnore {
		t.Fatalf("action = %s, want ignore", event.Action)
	}
}

func TestPixParse(t *testing.T) {
	t.Parallel()

	adapter, _ := testRegistry().Lookup("pix")

	event, err := adapter.Parse([]byte(`{"endToEndId":"E123","txid":"tx-1","status":"CONCLUIDA","valor":"45.00"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionComplete || event.EventID != "E123" || event.ExternalID != "tx-1" {
		t.Fatalf("event = %+v", event)
	}

	event, err = adapter.Parse([]byte(`{"endToEndId":"E124","txid":"tx-1","status":"DEVOLVIDA","devolucao":{"valor":"45.00"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Action != ActionRefund {
		t.Fatalf("action = %s, want refund", event.Action)
	}
	if event.RefundAmount == nil || !event.RefundAmount.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("refund amount = %v", event.RefundAmount)
	}

	if _, err := adapter.Parse([]byte(`{"status":"CONCLUIDA"}`)); err == nil {
		t.Fatal("missing txid accepted")
	}
}
