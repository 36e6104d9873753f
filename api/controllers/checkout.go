package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/api/responses"
	"github.com/vendalivre/vendalivre-backend/api/validators"
	checkoutsvc "github.com/vendalivre/vendalivre-backend/internal/checkout"
	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

// CheckoutService is the slice of the checkout orchestrator the API uses.
type CheckoutService interface {
	Checkout(ctx context.Context, input checkoutsvc.Input) (*models.Order, error)
}

// Checkout handles cart submission: stock reservation, coupon redemption and
// order creation in one shot.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.ItemInput{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}

		order, err := svc.Checkout(r.Context(), checkoutsvc.Input{
			CustomerName:    payload.CustomerName,
			CustomerEmail:   payload.CustomerEmail,
			CustomerPhone:   payload.CustomerPhone,
			Items:           items,
			CouponCode:      payload.CouponCode,
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			ShippingCost:    payload.ShippingCost,
			Tax:             payload.Tax,
			Notes:           payload.Notes,
			Metadata:        payload.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

type checkoutRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"required"`

	Items      []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	CouponCode string                `json:"coupon_code"`

	ShippingAddress *types.Address `json:"shipping_address,omitempty"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Tax             decimal.Decimal `json:"tax"`

	Notes    string        `json:"notes"`
	Metadata types.JSONMap `json:"metadata,omitempty"`
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}
