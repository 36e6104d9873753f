package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

const (
	defaultAbandonedTTL    = 72 * time.Hour
	abandonedOrderBatch    = 100
	abandonedCancelActor   = "system"
	abandonedCancelMessage = "abandoned checkout"
)

type abandonedOrderReader interface {
	List(ctx context.Context, filter orders.ListFilter) ([]models.Order, int64, error)
}

type orderCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID, actor, reason string) error
}

// AbandonedOrderJobParams configure the stale pending order sweeper.
type AbandonedOrderJobParams struct {
	Logger *logger.Logger
	Reader abandonedOrderReader
	Orders orderCanceller
	TTL    time.Duration
}

// NewAbandonedOrderJob builds the job that cancels orders stuck in PENDING
// past the checkout TTL, returning their reserved stock.
func NewAbandonedOrderJob(params AbandonedOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultAbandonedTTL
	}
	return &abandonedOrderJob{
		logg:   params.Logger,
		reader: params.Reader,
		orders: params.Orders,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

type abandonedOrderJob struct {
	logg   *logger.Logger
	reader abandonedOrderReader
	orders orderCanceller
	ttl    time.Duration
	now    func() time.Time
}

func (j *abandonedOrderJob) Name() string { return "abandoned-orders" }

func (j *abandonedOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)

	// Orders stall before payment in two places: PENDING checkouts the
	// customer walked away from, and AWAITING_PAYMENT orders whose payment
	// attempt expired. Both hold reserved stock until cancelled.
	var errs []error
	count := 0
	for _, status := range []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment} {
		status := status
		stale, _, err := j.reader.List(ctx, orders.ListFilter{
			Status:        &status,
			CreatedBefore: &cutoff,
			Limit:         abandonedOrderBatch,
		})
		if err != nil {
			return fmt.Errorf("list abandoned orders: %w", err)
		}
		for _, order := range stale {
			if err := j.orders.Cancel(ctx, order.ID, abandonedCancelActor, abandonedCancelMessage); err != nil {
				errs = append(errs, fmt.Errorf("cancel order %s: %w", order.OrderNumber, err))
				continue
			}
			count++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"cancelled": count,
		"failed":    len(errs),
	})
	j.logg.Info(logCtx, "abandoned order sweep complete")
	return multierr.Combine(errs...)
}
