package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

type fakeIngestService struct {
	event       *models.WebhookEvent
	err         error
	lastGateway string
	lastPayload []byte
}

func (f *fakeIngestService) Ingest(_ context.Context, gatewayName string, payload []byte, _ http.Header) (*models.WebhookEvent, error) {
	f.lastGateway = gatewayName
	f.lastPayload = payload
	return f.event, f.err
}

func newWebhookRouter(svc IngestService) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/{gateway}", GatewayWebhook(svc, nil))
	return r
}

func TestGatewayWebhookAcksStoredEvent(t *testing.T) {
	event := &models.WebhookEvent{
		ID:      uuid.New(),
		Gateway: enums.GatewayMercadoPago,
		EventID: "evt-1",
		Status:  enums.WebhookStatusPending,
	}
	svc := &fakeIngestService{event: event}
	router := newWebhookRouter(svc)

	body := []byte(`{"type":"payment","data":{"id":"123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastGateway != "mercadopago" {
		t.Fatalf("gateway = %q", svc.lastGateway)
	}
	if !bytes.Equal(svc.lastPayload, body) {
		t.Fatalf("payload not forwarded verbatim")
	}

	var envelope struct {
		Data struct {
			EventID string `json:"event_id"`
			Gateway string `json:"gateway"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.EventID != event.ID.String() {
		t.Fatalf("event_id = %q", envelope.Data.EventID)
	}
	if envelope.Data.Status != "pending" {
		t.Fatalf("status = %q", envelope.Data.Status)
	}
}

func TestGatewayWebhookDuplicateStillAcks(t *testing.T) {
	svc := &fakeIngestService{event: &models.WebhookEvent{
		ID:      uuid.New(),
		Gateway: enums.GatewayMercadoPago,
		Status:  enums.WebhookStatusDuplicate,
	}}
	router := newWebhookRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("duplicates must still be acked, got %d", rec.Code)
	}
}

func TestGatewayWebhookBadSignature(t *testing.T) {
	svc := &fakeIngestService{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "signature mismatch")}
	router := newWebhookRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestGatewayWebhookUnknownGateway(t *testing.T) {
	svc := &fakeIngestService{err: pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway")}
	router := newWebhookRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/doesnotexist", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown gateway, got %d", rec.Code)
	}
}
