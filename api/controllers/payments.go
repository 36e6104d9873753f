package controllers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/api/responses"
	"github.com/vendalivre/vendalivre-backend/api/validators"
	internalpayments "github.com/vendalivre/vendalivre-backend/internal/payments"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

// CreatePayment opens a new payment attempt for the order via the gateway.
func CreatePayment(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(payload.Method)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		payment, err := svc.Create(r.Context(), internalpayments.CreateInput{
			OrderID:       orderID,
			Method:        method,
			PayerName:     payload.PayerName,
			PayerEmail:    payload.PayerEmail,
			PayerDocument: payload.PayerDocument,
			CardToken:     payload.CardToken,
			Installments:  payload.Installments,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(payment))
	}
}

// PaymentDetail returns a single payment attempt.
func PaymentDetail(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := parseUUIDParam(r, "paymentId", "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// ListOrderPayments returns every payment attempt against an order.
func ListOrderPayments(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payments, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]paymentResponse, 0, len(payments))
		for i := range payments {
			items = append(items, newPaymentResponse(&payments[i]))
		}
		responses.WriteSuccess(w, items)
	}
}

// RefundPayment refunds a completed payment, fully when no amount is given.
func RefundPayment(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := parseUUIDParam(r, "paymentId", "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundPaymentRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		payment, err := svc.Refund(r.Context(), paymentID, payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// ReconcilePayment pulls the gateway's current state for the payment and
// applies whatever transition it implies.
func ReconcilePayment(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := parseUUIDParam(r, "paymentId", "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Reconcile(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

type createPaymentRequest struct {
	Method        string `json:"method" validate:"required"`
	PayerName     string `json:"payer_name"`
	PayerEmail    string `json:"payer_email" validate:"omitempty,email"`
	PayerDocument string `json:"payer_document"`
	CardToken     string `json:"card_token"`
	Installments  int    `json:"installments" validate:"omitempty,gte=1,lte=12"`
}

type refundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}
