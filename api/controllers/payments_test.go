package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	internalpayments "github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

type fakePaymentsService struct {
	payment          *models.Payment
	payments         []models.Payment
	err              error
	lastCreate       internalpayments.CreateInput
	lastRefundAmount *decimal.Decimal
	refunds          int
	reconciles       int
}

func (f *fakePaymentsService) Create(_ context.Context, input internalpayments.CreateInput) (*models.Payment, error) {
	f.lastCreate = input
	return f.payment, f.err
}

func (f *fakePaymentsService) Get(context.Context, uuid.UUID) (*models.Payment, error) {
	return f.payment, f.err
}

func (f *fakePaymentsService) GetByExternalID(context.Context, string) (*models.Payment, error) {
	return f.payment, f.err
}

func (f *fakePaymentsService) ListByOrder(context.Context, uuid.UUID) ([]models.Payment, error) {
	return f.payments, f.err
}

func (f *fakePaymentsService) Refund(_ context.Context, _ uuid.UUID, amount *decimal.Decimal) (*models.Payment, error) {
	f.refunds++
	f.lastRefundAmount = amount
	return f.payment, f.err
}

func (f *fakePaymentsService) Reconcile(context.Context, uuid.UUID) (*models.Payment, error) {
	f.reconciles++
	return f.payment, f.err
}

func (f *fakePaymentsService) CompleteTx(context.Context, *gorm.DB, uuid.UUID, internalpayments.CompleteInput) error {
	return f.err
}

func (f *fakePaymentsService) FailTx(context.Context, *gorm.DB, uuid.UUID, internalpayments.FailInput) error {
	return f.err
}

func (f *fakePaymentsService) CancelTx(context.Context, *gorm.DB, uuid.UUID, string) error {
	return f.err
}

func (f *fakePaymentsService) ExpireTx(context.Context, *gorm.DB, uuid.UUID) error {
	return f.err
}

func (f *fakePaymentsService) ApplyRefundTx(context.Context, *gorm.DB, uuid.UUID, decimal.Decimal) error {
	return f.err
}

func newPaymentsRouter(svc internalpayments.Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/orders/{orderId}/payments", CreatePayment(svc, nil))
	r.Get("/orders/{orderId}/payments", ListOrderPayments(svc, nil))
	r.Get("/payments/{paymentId}", PaymentDetail(svc, nil))
	r.Post("/payments/{paymentId}/refund", RefundPayment(svc, nil))
	r.Post("/payments/{paymentId}/reconcile", ReconcilePayment(svc, nil))
	return r
}

func seedPayment() *models.Payment {
	qr := "00020126pix"
	expires := time.Now().Add(30 * time.Minute)
	return &models.Payment{
		ID:        uuid.New(),
		PaymentID: "PAY-2026-000001",
		OrderID:   uuid.New(),
		Gateway:   enums.GatewayMercadoPago,
		Status:    enums.PaymentStatusPending,
		Method:    enums.PaymentMethodPix,
		Amount:    decimal.NewFromInt(150),
		QRCode:    &qr,
		ExpiresAt: &expires,
	}
}

func TestCreatePaymentPix(t *testing.T) {
	svc := &fakePaymentsService{payment: seedPayment()}
	router := newPaymentsRouter(svc)

	orderID := uuid.New()
	body := []byte(`{
		"method": "pix",
		"payer_name": "Maria Souza",
		"payer_email": "maria@example.com",
		"payer_document": "12345678909"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastCreate.OrderID != orderID {
		t.Fatalf("order id not forwarded")
	}
	if svc.lastCreate.Method != enums.PaymentMethodPix {
		t.Fatalf("method = %s", svc.lastCreate.Method)
	}

	var envelope struct {
		Data paymentResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.QRCode == nil || *envelope.Data.QRCode != "00020126pix" {
		t.Fatalf("qr code missing from response")
	}
}

func TestCreatePaymentUnknownMethod(t *testing.T) {
	svc := &fakePaymentsService{payment: seedPayment()}
	router := newPaymentsRouter(svc)

	body := []byte(`{"method": "cheque"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d", rec.Code)
	}
}

func TestRefundPaymentPartialAmount(t *testing.T) {
	svc := &fakePaymentsService{payment: seedPayment()}
	router := newPaymentsRouter(svc)

	body := []byte(`{"amount": "50.00"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.refunds != 1 {
		t.Fatalf("refund not invoked")
	}
	if svc.lastRefundAmount == nil || !svc.lastRefundAmount.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("amount = %v", svc.lastRefundAmount)
	}
}

func TestRefundPaymentFullWhenNoBody(t *testing.T) {
	svc := &fakePaymentsService{payment: seedPayment()}
	router := newPaymentsRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastRefundAmount != nil {
		t.Fatalf("expected nil amount for full refund")
	}
}

func TestRefundPaymentOverRefundMapsTo400(t *testing.T) {
	svc := &fakePaymentsService{err: pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds remaining amount")}
	router := newPaymentsRouter(svc)

	body := []byte(`{"amount": "500.00"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReconcilePayment(t *testing.T) {
	svc := &fakePaymentsService{payment: seedPayment()}
	router := newPaymentsRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/reconcile", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.reconciles != 1 {
		t.Fatalf("reconcile not invoked")
	}
}

func TestListOrderPayments(t *testing.T) {
	svc := &fakePaymentsService{payments: []models.Payment{*seedPayment(), *seedPayment()}}
	router := newPaymentsRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString()+"/payments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var envelope struct {
		Data []paymentResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 2 {
		t.Fatalf("payments = %d, want 2", len(envelope.Data))
	}
}
