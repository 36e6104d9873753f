package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vendalivre/vendalivre-backend/pkg/db/models"
	"github.com/vendalivre/vendalivre-backend/pkg/types"
)

type orderResponse struct {
	ID          uuid.UUID `json:"id"`
	OrderNumber string    `json:"order_number"`

	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerEmail *string `json:"customer_email,omitempty"`
	CustomerPhone string  `json:"customer_phone"`

	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`

	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`

	CouponCode *string `json:"coupon_code,omitempty"`

	ShippingAddress *types.Address `json:"shipping_address,omitempty"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`

	PixQRCode       *string `json:"pix_qr_code,omitempty"`
	BoletoTicketURL *string `json:"boleto_ticket_url,omitempty"`

	Notes        *string `json:"notes,omitempty"`
	TrackingCode *string `json:"tracking_code,omitempty"`
	Archived     bool    `json:"archived"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Items []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type orderEventResponse struct {
	ID          uuid.UUID `json:"id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	OldStatus   *string   `json:"old_status,omitempty"`
	NewStatus   *string   `json:"new_status,omitempty"`
	Actor       *string   `json:"actor,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type paymentResponse struct {
	ID         uuid.UUID `json:"id"`
	PaymentID  string    `json:"payment_id"`
	OrderID    uuid.UUID `json:"order_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Gateway    string    `json:"gateway"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`

	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`

	PaymentURL   *string `json:"payment_url,omitempty"`
	QRCode       *string `json:"qr_code,omitempty"`
	QRCodeBase64 *string `json:"qr_code_base64,omitempty"`
	Barcode      *string `json:"barcode,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		ShippingCost:    order.ShippingCost,
		Tax:             order.Tax,
		Total:           order.Total,
		CouponCode:      order.CouponCode,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		PixQRCode:       order.PixQRCode,
		BoletoTicketURL: order.BoletoTicketURL,
		Notes:           order.Notes,
		TrackingCode:    order.TrackingCode,
		Archived:        order.Archived,
		ConfirmedAt:     order.ConfirmedAt,
		PaidAt:          order.PaidAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		Items:           items,
	}
}

func newOrderEventResponse(event models.OrderEvent) orderEventResponse {
	resp := orderEventResponse{
		ID:          event.ID,
		EventType:   string(event.EventType),
		Description: event.Description,
		Actor:       event.Actor,
		CreatedAt:   event.CreatedAt,
	}
	if event.OldStatus != nil {
		old := string(*event.OldStatus)
		resp.OldStatus = &old
	}
	if event.NewStatus != nil {
		next := string(*event.NewStatus)
		resp.NewStatus = &next
	}
	return resp
}

func newPaymentResponse(payment *models.Payment) paymentResponse {
	if payment == nil {
		return paymentResponse{}
	}
	return paymentResponse{
		ID:             payment.ID,
		PaymentID:      payment.PaymentID,
		OrderID:        payment.OrderID,
		ExternalID:     payment.ExternalID,
		Gateway:        string(payment.Gateway),
		Status:         string(payment.Status),
		Method:         string(payment.Method),
		Amount:         payment.Amount,
		Fee:            payment.Fee,
		NetAmount:      payment.NetAmount,
		RefundedAmount: payment.RefundedAmount,
		PaymentURL:     payment.PaymentURL,
		QRCode:         payment.QRCode,
		QRCodeBase64:   payment.QRCodeBase64,
		Barcode:        payment.Barcode,
		ExpiresAt:      payment.ExpiresAt,
		PaidAt:         payment.PaidAt,
		ErrorCode:      payment.ErrorCode,
		ErrorMessage:   payment.ErrorMessage,
		CreatedAt:      payment.CreatedAt,
	}
}
