package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/internal/webhooks/gateway"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/metrics"
	"github.com/vendalivre/vendalivre-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service ingests gateway deliveries and applies them to payments. Ingest is
// the hot path behind the HTTP endpoint; ProcessPending runs in the worker.
type Service struct {
	repo     Repository
	tx       txRunner
	payments PaymentService
	registry *gateway.Registry
	idem     redis.IdempotencyStore
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	cfg      config.WebhooksConfig
}

// PaymentService is the slice of the payments service webhook processing
// drives.
type PaymentService interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	CompleteTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input payments.CompleteInput) error
	FailTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input payments.FailInput) error
	CancelTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) error
	ApplyRefundTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, amount decimal.Decimal) error
}

// NewService builds the webhook ingestion service. The redis store and
// metrics are optional; without redis every delivery goes straight to the
// database constraint.
func NewService(repo Repository, tx txRunner, payments PaymentService, registry *gateway.Registry, idem redis.IdempotencyStore, m *metrics.WebhookMetrics, logg *logger.Logger, cfg config.WebhooksConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		payments: payments,
		registry: registry,
		idem:     idem,
		metrics:  m,
		logg:     logg,
		cfg:      cfg,
	}, nil
}

// Ingest verifies, deduplicates and stores one delivery. The returned event
// reflects what was recorded; duplicates come back with status duplicate and
// are not stored twice.
func (s *Service) Ingest(ctx context.Context, gatewayName string, payload []byte, headers http.Header) (*models.WebhookEvent, error) {
	adapter, err := s.registry.Lookup(gatewayName)
	if err != nil {
		return nil, err
	}
	gw := adapter.Gateway()
	if s.metrics != nil {
		s.metrics.IncReceived(gw.String())
	}

	if err := adapter.VerifySignature(payload, headers); err != nil {
		return nil, err
	}
	parsed, err := adapter.Parse(payload)
	if err != nil {
		return nil, err
	}

	// Redis answers replays without touching the database. The unique
	// constraint below stays authoritative when redis is down or cold.
	var claimedKey string
	if s.idem != nil {
		key := s.idem.IdempotencyKey("webhook:"+gw.String(), parsed.EventID)
		fresh, err := s.idem.SetNX(ctx, key, "1", s.cfg.IdempotencyTTL)
		if err == nil {
			if !fresh {
				return s.markDuplicate(ctx, gw, parsed.EventID)
			}
			claimedKey = key
		}
	}

	event := models.WebhookEvent{
		Gateway:   gw,
		EventID:   parsed.EventID,
		EventType: parsed.EventType,
		Status:    enums.WebhookStatusPending,
		Payload:   json.RawMessage(payload),
	}
	if len(headers) > 0 {
		if raw, err := json.Marshal(headers); err == nil {
			event.Headers = raw
		}
	}
	if parsed.Action == gateway.ActionIgnore {
		now := time.Now()
		event.Status = enums.WebhookStatusIgnored
		event.ProcessedAt = &now
	}

	if err := s.repo.Create(ctx, &event); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.markDuplicate(ctx, gw, parsed.EventID)
		}
		// The insert failed but the redis key is already claimed. Release
		// it, otherwise the gateway's retry would be acked as a duplicate
		// and the delivery lost for good.
		if claimedKey != "" {
			if delErr := s.idem.Del(ctx, claimedKey); delErr != nil && s.logg != nil {
				s.logg.Error(ctx, "failed to release webhook idempotency key", delErr)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store webhook event")
	}
	return &event, nil
}

func (s *Service) markDuplicate(ctx context.Context, gw enums.Gateway, eventID string) (*models.WebhookEvent, error) {
	if s.metrics != nil {
		s.metrics.IncDuplicate(gw.String())
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"gateway":  gw.String(),
			"event_id": eventID,
		})
		s.logg.Info(logCtx, "webhook replay dropped as duplicate")
	}
	existing, err := s.repo.FindByGatewayEvent(ctx, gw, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Redis remembers a delivery the database never saw (row
			// pruned or insert raced); acknowledge without a row.
			return &models.WebhookEvent{Gateway: gw, EventID: eventID, Status: enums.WebhookStatusDuplicate}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	dup := *existing
	dup.Status = enums.WebhookStatusDuplicate
	return &dup, nil
}

// ProcessPending drains up to limit stored deliveries. Individual failures
// are recorded on the row and do not stop the batch.
func (s *Service) ProcessPending(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending webhooks")
	}

	processed := 0
	for i := range events {
		if err := s.Process(ctx, &events[i]); err != nil {
			if s.logg != nil {
				s.logg.Error(ctx, fmt.Sprintf("webhook %s processing failed", events[i].EventID), err)
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// Process applies one stored delivery to its payment. Replays are safe: the
// payment state machine ignores transitions it has already made.
func (s *Service) Process(ctx context.Context, event *models.WebhookEvent) error {
	started := time.Now()
	adapter, err := s.registry.Lookup(event.Gateway.String())
	if err != nil {
		return s.fail(ctx, event, err)
	}
	parsed, err := adapter.Parse(event.Payload)
	if err != nil {
		return s.fail(ctx, event, err)
	}

	if parsed.Action == gateway.ActionIgnore {
		return s.finish(ctx, event, enums.WebhookStatusIgnored, nil, started)
	}

	payment, err := s.payments.GetByExternalID(ctx, parsed.ExternalID)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// A delivery for a payment this system never created.
			// Keep the record, nothing to link it to.
			msg := "no matching payment"
			return s.finish(ctx, event, enums.WebhookStatusIgnored, &msg, started)
		}
		return s.fail(ctx, event, err)
	}
	event.PaymentID = &payment.ID
	event.OrderID = &payment.OrderID

	if parsed.Action == gateway.ActionReconcile {
		if _, err := s.payments.Reconcile(ctx, payment.ID); err != nil {
			return s.fail(ctx, event, err)
		}
		return s.finish(ctx, event, enums.WebhookStatusCompleted, nil, started)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		switch parsed.Action {
		case gateway.ActionComplete:
			return s.payments.CompleteTx(ctx, tx, payment.ID, payments.CompleteInput{GatewayResponse: event.Payload})
		case gateway.ActionFail:
			return s.payments.FailTx(ctx, tx, payment.ID, payments.FailInput{
				ErrorCode:       parsed.ErrorCode,
				ErrorMessage:    parsed.ErrorMessage,
				GatewayResponse: event.Payload,
			})
		case gateway.ActionCancel:
			return s.payments.CancelTx(ctx, tx, payment.ID, "cancelled at gateway")
		case gateway.ActionRefund:
			amount := payment.Amount.Sub(payment.RefundedAmount)
			if parsed.RefundAmount != nil {
				amount = *parsed.RefundAmount
			}
			if !amount.IsPositive() {
				return nil
			}
			return s.payments.ApplyRefundTx(ctx, tx, payment.ID, amount)
		default:
			return pkgerrors.New(pkgerrors.CodeInternal, "unhandled webhook action")
		}
	})
	if err != nil {
		return s.fail(ctx, event, err)
	}
	return s.finish(ctx, event, enums.WebhookStatusCompleted, nil, started)
}

func (s *Service) finish(ctx context.Context, event *models.WebhookEvent, status enums.WebhookStatus, message *string, started time.Time) error {
	now := time.Now()
	fields := map[string]any{
		"status":       status,
		"processed_at": now,
	}
	if message != nil {
		fields["error_message"] = *message
	}
	if event.PaymentID != nil {
		fields["payment_id"] = *event.PaymentID
	}
	if event.OrderID != nil {
		fields["order_id"] = *event.OrderID
	}
	if err := s.repo.UpdateFields(ctx, event.ID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update webhook event")
	}
	event.Status = status

	if s.metrics != nil {
		s.metrics.IncProcessed(event.Gateway.String())
		s.metrics.ObserveProcessing(event.Gateway.String(), time.Since(started))
	}
	return nil
}

func (s *Service) fail(ctx context.Context, event *models.WebhookEvent, cause error) error {
	retries := event.RetryCount + 1
	status := enums.WebhookStatusPending
	if retries >= s.maxRetries() {
		status = enums.WebhookStatusFailed
	}
	fields := map[string]any{
		"status":        status,
		"retry_count":   retries,
		"error_message": cause.Error(),
	}
	if err := s.repo.UpdateFields(ctx, event.ID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update webhook event")
	}
	event.Status = status
	event.RetryCount = retries

	if s.metrics != nil && status == enums.WebhookStatusFailed {
		s.metrics.IncFailed(event.Gateway.String())
	}
	return cause
}

func (s *Service) maxRetries() int {
	if s.cfg.MaxRetries <= 0 {
		return 5
	}
	return s.cfg.MaxRetries
}
