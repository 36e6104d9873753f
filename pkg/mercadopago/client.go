package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.mercadopago.com"
	responseBodyReadLimit int64 = 2048
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client wraps the Mercado Pago payments API used by the checkout and
// payment services.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	notifyURL   string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL. Used to point tests at a local server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithNotificationURL sets the webhook callback URL attached to created payments.
func WithNotificationURL(notifyURL string) Option {
	return func(c *Client) {
		c.notifyURL = strings.TrimSpace(notifyURL)
	}
}

// NewClient builds the Mercado Pago client given an access token.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	trimmedToken := strings.TrimSpace(accessToken)
	if trimmedToken == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: trimmedToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Payer identifies who is paying.
type Payer struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Identification struct {
		Type   string `json:"type,omitempty"`
		Number string `json:"number,omitempty"`
	} `json:"identification,omitempty"`
}

// CreatePaymentRequest is the subset of the payments API payload we send.
type CreatePaymentRequest struct {
	TransactionAmount float64    `json:"transaction_amount"`
	Description       string     `json:"description,omitempty"`
	PaymentMethodID   string     `json:"payment_method_id"`
	Token             string     `json:"token,omitempty"`
	Installments      int        `json:"installments,omitempty"`
	Payer             Payer      `json:"payer"`
	ExternalReference string     `json:"external_reference,omitempty"`
	NotificationURL   string     `json:"notification_url,omitempty"`
	DateOfExpiration  *time.Time `json:"date_of_expiration,omitempty"`
}

// TransactionData carries PIX artifacts returned under point_of_interaction.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// Payment is the normalized response for a created or fetched payment.
type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	PaymentMethodID   string          `json:"payment_method_id"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	DateOfExpiration  *time.Time      `json:"date_of_expiration"`
	DateApproved      *time.Time      `json:"date_approved"`

	PointOfInteraction struct {
		TransactionData TransactionData `json:"transaction_data"`
	} `json:"point_of_interaction"`

	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
		Barcode             string `json:"barcode"`
	} `json:"transaction_details"`

	FeeDetails []struct {
		Type   string          `json:"type"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"fee_details"`

	Raw json.RawMessage `json:"-"`
}

// Refund is the response for a refund request.
type Refund struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}

// TotalFees sums the fee_details entries.
func (p *Payment) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, fee := range p.FeeDetails {
		total = total.Add(fee.Amount)
	}
	return total
}

// CreatePayment posts a payment with the supplied idempotency key.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if req.TransactionAmount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount must be positive")
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	if strings.TrimSpace(req.Payer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer email is required")
	}
	if req.NotificationURL == "" {
		req.NotificationURL = c.notifyURL
	}

	payment, err := c.doPayment(ctx, http.MethodPost, "v1/payments", req)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPayment fetches the current payment state from the gateway. Used for
// reconciliation when webhook payloads omit the status.
func (c *Client) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	return c.doPayment(ctx, http.MethodGet, "v1/payments/"+url.PathEscape(trimmed), nil)
}

// RefundPayment issues a refund; a nil amount refunds the full payment.
func (c *Client) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var body any
	if amount != nil {
		body = map[string]float64{"amount": amount.InexactFloat64()}
	}

	resp, err := c.do(ctx, http.MethodPost, "v1/payments/"+url.PathEscape(trimmed)+"/refunds", body)
	if err != nil {
		return nil, err
	}

	var refund Refund
	if err := json.Unmarshal(resp, &refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refund response")
	}
	return &refund, nil
}

func (c *Client) doPayment(ctx context.Context, method, path string, body any) (*Payment, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	var payment Payment
	if err := json.Unmarshal(resp, &payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment response")
	}
	payment.Raw = resp
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal mercado pago request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build mercado pago request")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute mercado pago request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read mercado pago response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := raw
		if int64(len(msg)) > responseBodyReadLimit {
			msg = msg[:responseBodyReadLimit]
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "payment not found at gateway")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "mercado pago request failed")
	}

	return json.RawMessage(raw), nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
