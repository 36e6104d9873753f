package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vendalivre/vendalivre-backend/api/responses"
	"github.com/vendalivre/vendalivre-backend/api/validators"
	internalorders "github.com/vendalivre/vendalivre-backend/internal/orders"
	"github.com/vendalivre/vendalivre-backend/pkg/enums"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	defaultActor = "admin"
)

// ListOrders returns a filtered page of orders.
func ListOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		filter, err := buildOrderFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, total, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, 0, len(orders))
		for i := range orders {
			items = append(items, newOrderResponse(&orders[i]))
		}
		responses.WriteSuccess(w, orderListResponse{
			Orders: items,
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		})
	}
}

// OrderDetail returns a single order with its item snapshots.
func OrderDetail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderStats returns the dashboard aggregates.
func OrderStats(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// OrderEvents returns the append-only audit trail.
func OrderEvents(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.Events(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]orderEventResponse, 0, len(events))
		for _, event := range events {
			items = append(items, newOrderEventResponse(event))
		}
		responses.WriteSuccess(w, items)
	}
}

// ConfirmOrder moves a pending order to confirmed.
func ConfirmOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderTransitionHandler(svc, logg, func(r *http.Request, orderID uuid.UUID, actor string) error {
		return svc.Confirm(r.Context(), orderID, actor)
	})
}

// MarkOrderPaid marks an order paid outside the gateway flow (manual settle).
func MarkOrderPaid(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderTransitionHandler(svc, logg, func(r *http.Request, orderID uuid.UUID, actor string) error {
		return svc.MarkPaid(r.Context(), orderID, actor)
	})
}

// DeliverOrder marks a shipped order as delivered.
func DeliverOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderTransitionHandler(svc, logg, func(r *http.Request, orderID uuid.UUID, actor string) error {
		return svc.Deliver(r.Context(), orderID, actor)
	})
}

// ShipOrder marks the order shipped, optionally recording a tracking code.
func ShipOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload shipOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Ship(r.Context(), orderID, actorOrDefault(payload.Actor), payload.TrackingCode); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// CancelOrder cancels the order and releases its reserved stock.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), orderID, actorOrDefault(payload.Actor), payload.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AddOrderItem appends a product line to a pending order.
func AddOrderItem(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalorders.ItemInput{
			ProductID: payload.ProductID,
			Quantity:  payload.Quantity,
		}
		if err := svc.AddItem(r.Context(), orderID, actorOrDefault(payload.Actor), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, nil)
	}
}

// RemoveOrderItem deletes a product line from a pending order.
func RemoveOrderItem(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := parseUUIDParam(r, "itemId", "item id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := strings.TrimSpace(r.URL.Query().Get("actor"))
		if err := svc.RemoveItem(r.Context(), orderID, itemID, actorOrDefault(actor)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AddOrderNote appends a customer-visible or internal note.
func AddOrderNote(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addNoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.AddNote(r.Context(), orderID, actorOrDefault(payload.Actor), payload.Note, payload.Internal); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// ArchiveOrder soft-deletes a terminal order.
func ArchiveOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Archive(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type shipOrderRequest struct {
	TrackingCode *string `json:"tracking_code,omitempty"`
	Actor        string  `json:"actor,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor,omitempty"`
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	Actor     string    `json:"actor,omitempty"`
}

type addNoteRequest struct {
	Note     string `json:"note" validate:"required"`
	Internal bool   `json:"internal"`
	Actor    string `json:"actor,omitempty"`
}

// transitionRequest is the shared optional body for simple state transitions.
type transitionRequest struct {
	Actor string `json:"actor,omitempty"`
}

func orderTransitionHandler(svc internalorders.Service, logg *logger.Logger, apply func(*http.Request, uuid.UUID, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := defaultActor
		if r.ContentLength > 0 {
			var payload transitionRequest
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			actor = actorOrDefault(payload.Actor)
		}

		if err := apply(r, orderID, actor); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func actorOrDefault(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return defaultActor
	}
	return actor
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	return parseUUIDParam(r, "orderId", "order id")
}

func parseUUIDParam(r *http.Request, param, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return parsed, nil
}

func buildOrderFilter(r *http.Request) (internalorders.ListFilter, error) {
	var filter internalorders.ListFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
		status, err := enums.ParseOrderPaymentStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_status")
		}
		filter.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("customer_email")); raw != "" {
		filter.CustomerEmail = &raw
	}
	filter.IncludeArchived = r.URL.Query().Get("include_archived") == "true"

	limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset

	return filter, nil
}
