package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/api/responses"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

// IngestService verifies, deduplicates and stores an inbound gateway event.
type IngestService interface {
	Ingest(ctx context.Context, gatewayName string, payload []byte, headers http.Header) (*models.WebhookEvent, error)
}

// GatewayWebhook receives deliveries for any registered gateway. Bad
// signatures get 401, unknown gateways 404, everything else 200 so the
// gateway stops retrying; processing happens asynchronously.
func GatewayWebhook(svc IngestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		gateway := strings.TrimSpace(chi.URLParam(r, "gateway"))
		if gateway == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "gateway is required"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if logg != nil {
			ctx = logg.WithGateway(ctx, gateway)
		}

		event, err := svc.Ingest(ctx, gateway, payload, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newWebhookAck(event))
	}
}

type webhookAck struct {
	EventID    uuid.UUID  `json:"event_id"`
	Gateway    string     `json:"gateway"`
	Status     string     `json:"status"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

func newWebhookAck(event *models.WebhookEvent) webhookAck {
	if event == nil {
		return webhookAck{}
	}
	ack := webhookAck{
		EventID: event.ID,
		Gateway: string(event.Gateway),
		Status:  string(event.Status),
	}
	if !event.CreatedAt.IsZero() {
		created := event.CreatedAt
		ack.ReceivedAt = &created
	}
	return ack
}
