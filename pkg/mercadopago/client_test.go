package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("   ")
	require.Error(t, err)
}

func TestCreatePaymentValidation(t *testing.T) {
	client, err := NewClient("token")
	require.NoError(t, err)

	_, err = client.CreatePayment(context.Background(), CreatePaymentRequest{
		TransactionAmount: 0,
		PaymentMethodID:   "pix",
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestCreatePaymentParsesPixArtifacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))

		var req CreatePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pix", req.PaymentMethodID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 12345678,
			"status": "pending",
			"payment_method_id": "pix",
			"transaction_amount": 45.00,
			"point_of_interaction": {
				"transaction_data": {
					"qr_code": "00020126QRDATA",
					"qr_code_base64": "aGVsbG8=",
					"ticket_url": "https://mp.example/ticket"
				}
			}
		}`))
	}))
	defer server.Close()

	client, err := NewClient("token", WithBaseURL(server.URL))
	require.NoError(t, err)

	payment, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		TransactionAmount: 45.00,
		PaymentMethodID:   "pix",
		Payer:             Payer{Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12345678), payment.ID)
	assert.Equal(t, "pending", payment.Status)
	assert.Equal(t, "00020126QRDATA", payment.PointOfInteraction.TransactionData.QRCode)
	assert.Equal(t, "aGVsbG8=", payment.PointOfInteraction.TransactionData.QRCodeBase64)
	assert.True(t, payment.TransactionAmount.Equal(decimal.NewFromFloat(45.00)))
	assert.NotEmpty(t, payment.Raw)
}

func TestGetPaymentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found"}`))
	}))
	defer server.Close()

	client, err := NewClient("token", WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = client.GetPayment(context.Background(), "99999")
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestRefundPaymentPartialAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/12345678/refunds", r.URL.Path)

		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 10.50, body["amount"], 0.001)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 555, "payment_id": 12345678, "amount": 10.50, "status": "approved"}`))
	}))
	defer server.Close()

	client, err := NewClient("token", WithBaseURL(server.URL))
	require.NoError(t, err)

	amount := decimal.NewFromFloat(10.50)
	refund, err := client.RefundPayment(context.Background(), "12345678", &amount)
	require.NoError(t, err)
	assert.Equal(t, int64(555), refund.ID)
	assert.Equal(t, "approved", refund.Status)
}

func TestTotalFees(t *testing.T) {
	payment := &Payment{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"fee_details": [
			{"type": "mercadopago_fee", "amount": 1.99},
			{"type": "financing_fee", "amount": 0.51}
		]
	}`), payment))
	assert.True(t, payment.TotalFees().Equal(decimal.NewFromFloat(2.50)))
}
