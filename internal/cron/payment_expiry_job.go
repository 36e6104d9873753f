package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

const expiredPaymentBatch = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type expiredPaymentReader interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

type paymentExpirer interface {
	ExpireTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) error
}

// PaymentExpiryJobParams configure the expired payment sweeper.
type PaymentExpiryJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Reader   expiredPaymentReader
	Payments paymentExpirer
}

// NewPaymentExpiryJob builds the job that cancels payments past their
// deadline. PIX codes and boletos carry an expiry the gateway does not always
// call back about.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("payment reader required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	return &paymentExpiryJob{
		logg:     params.Logger,
		db:       params.DB,
		reader:   params.Reader,
		payments: params.Payments,
		now:      time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg     *logger.Logger
	db       txRunner
	reader   expiredPaymentReader
	payments paymentExpirer
	now      func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	expired, err := j.reader.ListExpired(ctx, j.now().UTC(), expiredPaymentBatch)
	if err != nil {
		return fmt.Errorf("list expired payments: %w", err)
	}

	var errs []error
	count := 0
	for _, payment := range expired {
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.payments.ExpireTx(ctx, tx, payment.ID)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire payment %s: %w", payment.PaymentID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired": count,
		"failed":  len(errs),
	})
	j.logg.Info(logCtx, "payment expiry sweep complete")
	return multierr.Combine(errs...)
}
