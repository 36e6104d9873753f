package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeExpiredReader struct {
	payments []models.Payment
	err      error
}

func (f *fakeExpiredReader) ListExpired(_ context.Context, _ time.Time, _ int) ([]models.Payment, error) {
	return f.payments, f.err
}

type fakeExpirer struct {
	expired []uuid.UUID
	failOn  uuid.UUID
}

func (f *fakeExpirer) ExpireTx(_ context.Context, _ *gorm.DB, paymentID uuid.UUID) error {
	if paymentID == f.failOn {
		return errors.New("boom")
	}
	f.expired = append(f.expired, paymentID)
	return nil
}

func TestPaymentExpiryJobExpiresEachPayment(t *testing.T) {
	t.Parallel()

	reader := &fakeExpiredReader{payments: []models.Payment{
		{ID: uuid.New(), PaymentID: "PAY-1"},
		{ID: uuid.New(), PaymentID: "PAY-2"},
	}}
	expirer := &fakeExpirer{}
	job, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:   testLogger(),
		DB:       passthroughTxRunner{},
		Reader:   reader,
		Payments: expirer,
	})
	if err != nil {
		t.Fatalf("NewPaymentExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.expired) != 2 {
		t.Fatalf("expired = %d, want 2", len(expirer.expired))
	}
}

func TestPaymentExpiryJobContinuesPastFailures(t *testing.T) {
	t.Parallel()

	bad := uuid.New()
	good := uuid.New()
	reader := &fakeExpiredReader{payments: []models.Payment{
		{ID: bad, PaymentID: "PAY-bad"},
		{ID: good, PaymentID: "PAY-good"},
	}}
	expirer := &fakeExpirer{failOn: bad}
	job, err := NewPaymentExpiryJob(PaymentExpiryJobParams{
		Logger:   testLogger(),
		DB:       passthroughTxRunner{},
		Reader:   reader,
		Payments: expirer,
	})
	if err != nil {
		t.Fatalf("NewPaymentExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(expirer.expired) != 1 || expirer.expired[0] != good {
		t.Fatalf("expired = %v, want only the good payment", expirer.expired)
	}
}

type fakeOrderReader struct {
	byStatus map[enums.OrderStatus][]models.Order
	filters  []orders.ListFilter
}

func (f *fakeOrderReader) List(_ context.Context, filter orders.ListFilter) ([]models.Order, int64, error) {
	f.filters = append(f.filters, filter)
	if filter.Status == nil {
		return nil, 0, nil
	}
	rows := f.byStatus[*filter.Status]
	return rows, int64(len(rows)), nil
}

type fakeCanceller struct {
	cancelled []uuid.UUID
	reasons   []string
}

func (f *fakeCanceller) Cancel(_ context.Context, id uuid.UUID, _ string, reason string) error {
	f.cancelled = append(f.cancelled, id)
	f.reasons = append(f.reasons, reason)
	return nil
}

func TestAbandonedOrderJobCancelsStalePending(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeOrderReader{byStatus: map[enums.OrderStatus][]models.Order{
		enums.OrderStatusPending: {
			{ID: uuid.New(), OrderNumber: "ORD-1"},
			{ID: uuid.New(), OrderNumber: "ORD-2"},
		},
	}}
	canceller := &fakeCanceller{}
	jobIface, err := NewAbandonedOrderJob(AbandonedOrderJobParams{
		Logger: testLogger(),
		Reader: reader,
		Orders: canceller,
		TTL:    48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAbandonedOrderJob: %v", err)
	}
	job := jobIface.(*abandonedOrderJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(canceller.cancelled) != 2 {
		t.Fatalf("cancelled = %d, want 2", len(canceller.cancelled))
	}
	if canceller.reasons[0] != abandonedCancelMessage {
		t.Fatalf("reason = %q", canceller.reasons[0])
	}
	if len(reader.filters) == 0 || reader.filters[0].Status == nil || *reader.filters[0].Status != enums.OrderStatusPending {
		t.Fatal("first sweep must target pending orders")
	}
	wantCutoff := now.Add(-48 * time.Hour)
	for _, filter := range reader.filters {
		if filter.CreatedBefore == nil || !filter.CreatedBefore.Equal(wantCutoff) {
			t.Fatalf("cutoff = %v, want %s", filter.CreatedBefore, wantCutoff)
		}
	}
}

func TestAbandonedOrderJobSweepsAwaitingPayment(t *testing.T) {
	t.Parallel()

	stuck := models.Order{ID: uuid.New(), OrderNumber: "ORD-3"}
	reader := &fakeOrderReader{byStatus: map[enums.OrderStatus][]models.Order{
		enums.OrderStatusAwaitingPayment: {stuck},
	}}
	canceller := &fakeCanceller{}
	jobIface, err := NewAbandonedOrderJob(AbandonedOrderJobParams{
		Logger: testLogger(),
		Reader: reader,
		Orders: canceller,
		TTL:    48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAbandonedOrderJob: %v", err)
	}

	if err := jobIface.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// An order whose payment attempt expired still holds its stock; the
	// sweep has to release it, not just the never-paid pending ones.
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != stuck.ID {
		t.Fatalf("cancelled = %v, want the awaiting_payment order", canceller.cancelled)
	}
	statuses := make([]enums.OrderStatus, 0, len(reader.filters))
	for _, filter := range reader.filters {
		if filter.Status != nil {
			statuses = append(statuses, *filter.Status)
		}
	}
	want := []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusAwaitingPayment}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Fatalf("swept statuses = %v, want %v", statuses, want)
	}
}

type fakePruner struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakePruner) DeletePublishedBefore(cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func TestOutboxRetentionJobDeletesPublishedRows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: testLogger(),
		Outbox: pruner,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantCutoff := now.Add(-defaultRetentionDays * 24 * time.Hour)
	if !pruner.lastCutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %s, want %s", pruner.lastCutoff, wantCutoff)
	}
	if pruner.called != 1 {
		t.Fatalf("called = %d, want 1", pruner.called)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	t.Parallel()

	pruner := &fakePruner{err: errors.New("boom")}
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: testLogger(),
		Outbox: pruner,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeLock struct {
	acquired bool
	releases int
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	return l.acquired, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.releases++
	return nil
}

type countingJob struct {
	runs int
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return nil
}

func TestServiceSkipsCycleWithoutLock(t *testing.T) {
	t.Parallel()

	job := &countingJob{}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquired: false},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("runs = %d, want 0 without lock", job.runs)
	}
}

func TestServiceRunsJobsWithLock(t *testing.T) {
	t.Parallel()

	job := &countingJob{}
	lock := &fakeLock{acquired: true}
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("runs = %d, want 1", job.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("releases = %d, want 1", lock.releases)
	}
}
