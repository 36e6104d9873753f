package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/mercadopago"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox"
	"github.com/vendalivre/vendalivre-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	orders  orderTransitioner
	gateway gatewayClient
	cfg     config.MercadoPagoConfig
}

// NewService builds a payment lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, orderSvc orderTransitioner, gateway gatewayClient, cfg config.MercadoPagoConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order transitioner required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outboxSvc,
		orders:  orderSvc,
		gateway: gateway,
		cfg:     cfg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if input.PayerEmail == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer email required")
	}
	if input.Method == enums.PaymentMethodCard && input.CardToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token required")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	var created *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.WithContext(ctx).Where("id = ?", input.OrderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		switch order.Status {
		case enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusAwaitingPayment:
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable in its current state")
		}

		req, expiresAt := s.buildGatewayRequest(&order, input)
		gwPayment, err := s.gateway.CreatePayment(ctx, req)
		if err != nil {
			return err
		}

		externalID := fmt.Sprintf("%d", gwPayment.ID)
		payment := models.Payment{
			PaymentID:       newPaymentID(),
			OrderID:         order.ID,
			ExternalID:      &externalID,
			Gateway:         enums.GatewayMercadoPago,
			Status:          enums.PaymentStatusPending,
			Method:          input.Method,
			Amount:          order.Total,
			ExpiresAt:       expiresAt,
			GatewayResponse: gwPayment.Raw,
		}
		if input.PayerName != "" {
			payment.PayerName = &input.PayerName
		}
		payment.PayerEmail = &input.PayerEmail
		if input.PayerDocument != "" {
			payment.PayerDocument = &input.PayerDocument
		}

		artifacts := &orders.PaymentArtifacts{}
		if qr := gwPayment.PointOfInteraction.TransactionData.QRCode; qr != "" {
			payment.QRCode = &qr
			artifacts.PixQRCode = &qr
		}
		if qr64 := gwPayment.PointOfInteraction.TransactionData.QRCodeBase64; qr64 != "" {
			payment.QRCodeBase64 = &qr64
		}
		if ticket := gwPayment.PointOfInteraction.TransactionData.TicketURL; ticket != "" {
			payment.PaymentURL = &ticket
		}
		if boleto := gwPayment.TransactionDetails.ExternalResourceURL; boleto != "" {
			payment.PaymentURL = &boleto
			artifacts.BoletoTicketURL = &boleto
		}
		if barcode := gwPayment.TransactionDetails.Barcode; barcode != "" {
			payment.Barcode = &barcode
		}

		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, &payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		if order.Status != enums.OrderStatusAwaitingPayment {
			if err := s.orders.TransitionTx(ctx, tx, order.ID, enums.OrderStatusAwaitingPayment, "system", ""); err != nil {
				return err
			}
		}
		if err := s.orders.SetPaymentStateTx(ctx, tx, order.ID, enums.OrderPaymentStatusPending, artifacts); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         "system",
			Version:       1,
			Data: payloads.PaymentCreatedEvent{
				PaymentID: payment.ID,
				OrderID:   payment.OrderID,
				Gateway:   payment.Gateway,
				Method:    payment.Method,
				Amount:    payment.Amount,
				ExpiresAt: payment.ExpiresAt,
			},
		}); err != nil {
			return err
		}

		created = &payment

		// Card payments can come back approved synchronously.
		if gwPayment.Status == "approved" {
			fee := gwPayment.TotalFees()
			now := time.Now()
			return s.CompleteTx(ctx, tx, payment.ID, CompleteInput{PaidAt: &now, Fee: &fee, GatewayResponse: gwPayment.Raw})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) buildGatewayRequest(order *models.Order, input CreateInput) (mercadopago.CreatePaymentRequest, *time.Time) {
	req := mercadopago.CreatePaymentRequest{
		TransactionAmount: order.Total.InexactFloat64(),
		Description:       fmt.Sprintf("Pedido %s", order.OrderNumber),
		ExternalReference: order.OrderNumber,
		Payer:             mercadopago.Payer{Email: input.PayerEmail, FirstName: input.PayerName},
	}
	req.Payer.Identification.Type = "CPF"
	req.Payer.Identification.Number = input.PayerDocument

	var expiresAt *time.Time
	switch input.Method {
	case enums.PaymentMethodPix:
		req.PaymentMethodID = "pix"
		t := time.Now().Add(s.cfg.PixExpiry)
		req.DateOfExpiration = &t
		expiresAt = &t
	case enums.PaymentMethodBoleto:
		req.PaymentMethodID = "bolbradesco"
		t := time.Now().Add(s.cfg.BoletoExpiry)
		req.DateOfExpiration = &t
		expiresAt = &t
	case enums.PaymentMethodCard:
		req.PaymentMethodID = "credit_card"
		req.Token = input.CardToken
		req.Installments = input.Installments
		if req.Installments <= 0 {
			req.Installments = 1
		}
	}
	return req, expiresAt
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	payment, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

// CompleteTx marks the payment completed. Calling it again for an already
// completed payment is a no-op, which is what makes webhook replays safe.
func (s *service) CompleteTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input CompleteInput) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	switch payment.Status {
	case enums.PaymentStatusCompleted,
		enums.PaymentStatusPartiallyRefunded,
		enums.PaymentStatusRefunded:
		return nil
	}

	paidAt := time.Now()
	if input.PaidAt != nil {
		paidAt = *input.PaidAt
	}
	fee := decimal.Zero
	if input.Fee != nil {
		fee = *input.Fee
	}

	fields := map[string]any{
		"status":     enums.PaymentStatusCompleted,
		"paid_at":    paidAt,
		"fee":        fee,
		"net_amount": payment.Amount.Sub(fee),
	}
	if len(input.GatewayResponse) > 0 {
		fields["gateway_response"] = json.RawMessage(input.GatewayResponse)
	}
	if err := repo.UpdateFields(ctx, paymentID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
	}

	// A completed payment for a cancelled order stays recorded but leaves
	// the order alone; support resolves those by hand.
	if err := s.orders.TransitionTx(ctx, tx, payment.OrderID, enums.OrderStatusPaid, "webhook:"+payment.Gateway.String(), ""); err != nil {
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
			return err
		}
	}

	var order models.Order
	if err := tx.WithContext(ctx).Select("order_number").Where("id = ?", payment.OrderID).First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order number")
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         "webhook:" + payment.Gateway.String(),
		Version:       1,
		Data: payloads.PaymentCompletedEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			OrderNumber: order.OrderNumber,
			Gateway:     payment.Gateway,
			Method:      payment.Method,
			Amount:      payment.Amount,
			PaidAt:      paidAt,
		},
	})
}

// FailTx records a gateway rejection. A completed payment never regresses to
// failed; late rejection events after approval are dropped here.
func (s *service) FailTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, input FailInput) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	switch payment.Status {
	case enums.PaymentStatusCompleted,
		enums.PaymentStatusPartiallyRefunded,
		enums.PaymentStatusRefunded,
		enums.PaymentStatusFailed:
		return nil
	}

	fields := map[string]any{"status": enums.PaymentStatusFailed}
	if input.ErrorCode != "" {
		fields["error_code"] = input.ErrorCode
	}
	if input.ErrorMessage != "" {
		fields["error_message"] = input.ErrorMessage
	}
	if len(input.GatewayResponse) > 0 {
		fields["gateway_response"] = json.RawMessage(input.GatewayResponse)
	}
	if err := repo.UpdateFields(ctx, paymentID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
	}

	var order models.Order
	if err := tx.WithContext(ctx).Where("id = ?", payment.OrderID).First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	// Only downgrade the order rollup when no other payment succeeded.
	if order.PaymentStatus == enums.OrderPaymentStatusPending {
		if err := s.orders.SetPaymentStateTx(ctx, tx, payment.OrderID, enums.OrderPaymentStatusFailed, nil); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         "webhook:" + payment.Gateway.String(),
		Version:       1,
		Data: payloads.PaymentFailedEvent{
			PaymentID:    payment.ID,
			OrderID:      payment.OrderID,
			Gateway:      payment.Gateway,
			ErrorCode:    input.ErrorCode,
			ErrorMessage: input.ErrorMessage,
		},
	})
}

func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	switch payment.Status {
	case enums.PaymentStatusPending, enums.PaymentStatusProcessing:
	default:
		return nil
	}

	fields := map[string]any{"status": enums.PaymentStatusCancelled}
	if reason != "" {
		fields["error_message"] = reason
	}
	if err := repo.UpdateFields(ctx, paymentID, fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment")
	}
	return nil
}

// ExpireTx fails a pending payment that passed its deadline and emits the
// expiry event the abandoned-order job keys off.
func (s *service) ExpireTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	switch payment.Status {
	case enums.PaymentStatusPending, enums.PaymentStatusProcessing:
	default:
		return nil
	}

	now := time.Now()
	err = repo.UpdateFields(ctx, paymentID, map[string]any{
		"status":     enums.PaymentStatusFailed,
		"error_code": "expired",
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire payment")
	}

	var order models.Order
	if err := tx.WithContext(ctx).Where("id = ?", payment.OrderID).First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	// Same rollup rule as FailTx: only downgrade when no other attempt succeeded.
	if order.PaymentStatus == enums.OrderPaymentStatusPending {
		if err := s.orders.SetPaymentStateTx(ctx, tx, payment.OrderID, enums.OrderPaymentStatusFailed, nil); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentExpired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         "system",
		Version:       1,
		Data: payloads.PaymentExpiredEvent{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			ExpiredAt: now,
		},
	})
}

// ApplyRefundTx books a refund amount against a completed payment. The total
// refunded can never exceed the captured amount.
func (s *service) ApplyRefundTx(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	switch payment.Status {
	case enums.PaymentStatusCompleted, enums.PaymentStatusPartiallyRefunded:
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only completed payments can be refunded")
	}

	refunded := payment.RefundedAmount.Add(amount)
	if refunded.GreaterThan(payment.Amount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds captured amount").
			WithDetails(map[string]string{
				"amount":           payment.Amount.String(),
				"already_refunded": payment.RefundedAmount.String(),
				"requested":        amount.String(),
			})
	}

	status := enums.PaymentStatusPartiallyRefunded
	if refunded.Equal(payment.Amount) {
		status = enums.PaymentStatusRefunded
	}
	err = repo.UpdateFields(ctx, paymentID, map[string]any{
		"refunded_amount": refunded,
		"status":          status,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
	}

	// The order rollup compares the refunded sum across every payment attempt
	// against the order total, not this payment alone.
	var order models.Order
	if err := tx.WithContext(ctx).Select("total").Where("id = ?", payment.OrderID).First(&order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order total")
	}
	orderRefunded, err := repo.SumRefundedByOrder(ctx, payment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum order refunds")
	}

	if orderRefunded.GreaterThanOrEqual(order.Total) {
		if err := s.orders.TransitionTx(ctx, tx, payment.OrderID, enums.OrderStatusRefunded, "system", "order fully refunded"); err != nil {
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
				return err
			}
		}
	} else {
		if err := s.orders.SetPaymentStateTx(ctx, tx, payment.OrderID, enums.OrderPaymentStatusPartiallyRefunded, nil); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         "system",
		Version:       1,
		Data: payloads.PaymentRefundedEvent{
			PaymentID:      payment.ID,
			OrderID:        payment.OrderID,
			Amount:         amount,
			RefundedAmount: refunded,
			Partial:        status != enums.PaymentStatusRefunded,
		},
	})
}

// Refund asks the gateway for a refund and books it locally on success. A nil
// amount refunds whatever remains of the payment.
func (s *service) Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.ExternalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway reference")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	refundAmount := payment.Amount.Sub(payment.RefundedAmount)
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing left to refund")
	}

	if _, err := s.gateway.RefundPayment(ctx, *payment.ExternalID, &refundAmount); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ApplyRefundTx(ctx, tx, id, refundAmount)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Reconcile pulls the authoritative state from the gateway and applies it.
// Used when a webhook payload arrives without a status or is ambiguous.
func (s *service) Reconcile(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.ExternalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway reference")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	gwPayment, err := s.gateway.GetPayment(ctx, *payment.ExternalID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		switch gwPayment.Status {
		case "approved":
			fee := gwPayment.TotalFees()
			return s.CompleteTx(ctx, tx, id, CompleteInput{
				PaidAt:          gwPayment.DateApproved,
				Fee:             &fee,
				GatewayResponse: gwPayment.Raw,
			})
		case "rejected":
			return s.FailTx(ctx, tx, id, FailInput{
				ErrorCode:       gwPayment.StatusDetail,
				GatewayResponse: gwPayment.Raw,
			})
		case "cancelled":
			return s.CancelTx(ctx, tx, id, "cancelled at gateway")
		case "refunded":
			remaining := payment.Amount.Sub(payment.RefundedAmount)
			if remaining.IsPositive() {
				return s.ApplyRefundTx(ctx, tx, id, remaining)
			}
			return nil
		default:
			// pending / in_process: nothing to change yet.
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func newPaymentID() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("PAY-%s-%s", time.Now().Format("20060102"), uuid.NewString()[:6])
	}
	return fmt.Sprintf("PAY-%s-%s", time.Now().Format("20060102"), hex.EncodeToString(buf))
}
