package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"estancias/internal/app/policies"
	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Client talks to the hosted payment processor over its form-encoded HTTP
// API. It implements policies.Gateway; callers never invoke it while holding
// row locks.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	http          *http.Client
	logger        *slog.Logger
	now           func() time.Time
}

type Options struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	Logger        *slog.Logger
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		webhookSecret: opts.WebhookSecret,
		http:          &http.Client{Timeout: timeout},
		logger:        logger,
		now:           time.Now,
	}
}

type intentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code          string `json:"code"`
		DeclineCode   string `json:"decline_code"`
		PaymentIntent *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payment_intent"`
	} `json:"error"`
}

func (c *Client) CreateOffSessionCharge(ctx context.Context, params policies.OffSessionChargeParams) (policies.Charge, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount.Cents, 10))
	form.Set("currency", strings.ToLower(params.Amount.Currency))
	form.Set("customer", params.CustomerID)
	form.Set("payment_method", params.PaymentMethodID)
	form.Set("off_session", "true")
	form.Set("confirm", "true")
	form.Set("description", params.Description)
	form.Set("metadata[booking_id]", params.BookingID)
	form.Set("metadata[payment_id]", params.PaymentID)
	form.Set("metadata[payment_type]", params.PaymentType)

	var resp intentResponse
	status, err := c.post(ctx, "/v1/payment_intents", form, params.IdempotencyKey, &resp)
	if err != nil {
		return policies.Charge{}, err
	}
	if status >= 200 && status < 300 {
		switch resp.Status {
		case "succeeded":
			return policies.Charge{IntentID: resp.ID}, nil
		case "requires_action", "requires_confirmation":
			return policies.Charge{}, &policies.ActionRequiredError{IntentID: resp.ID}
		default:
			return policies.Charge{}, fmt.Errorf("gateway: unexpected intent status %q", resp.Status)
		}
	}
	if resp.Error != nil {
		intentID := ""
		if resp.Error.PaymentIntent != nil {
			intentID = resp.Error.PaymentIntent.ID
		}
		switch resp.Error.Code {
		case "authentication_required":
			return policies.Charge{}, &policies.ActionRequiredError{IntentID: intentID}
		case "card_declined", "expired_card", "incorrect_cvc":
			return policies.Charge{}, &policies.DeclinedError{IntentID: intentID, Code: declineCode(resp.Error.Code, resp.Error.DeclineCode)}
		}
	}
	return policies.Charge{}, fmt.Errorf("gateway: charge request failed with status %d", status)
}

func declineCode(code, declineCode string) string {
	if declineCode != "" {
		return declineCode
	}
	return code
}

type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
	ExpiresAt     int64  `json:"expires_at"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params policies.CheckoutSessionParams) (policies.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("client_reference_id", params.ClientReferenceID)
	form.Set("line_items[0][price_data][currency]", strings.ToLower(params.Amount.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.Amount.Cents, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.Name)
	if params.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", params.Description)
	}
	form.Set("line_items[0][quantity]", "1")
	if params.CustomerID != "" {
		form.Set("customer", params.CustomerID)
	} else if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
		form.Set("customer_creation", "always")
	}
	if params.SaveMethod {
		form.Set("payment_intent_data[setup_future_usage]", "off_session")
	}
	form.Set("metadata[booking_id]", params.BookingID)
	form.Set("metadata[payment_id]", params.PaymentID)
	form.Set("metadata[payment_type]", params.PaymentType)
	form.Set("payment_intent_data[metadata][booking_id]", params.BookingID)
	form.Set("payment_intent_data[metadata][payment_id]", params.PaymentID)
	if params.ChangeLogID != "" {
		form.Set("metadata[change_log_id]", params.ChangeLogID)
	}

	var resp sessionResponse
	status, err := c.post(ctx, "/v1/checkout/sessions", form, "", &resp)
	if err != nil {
		return policies.CheckoutSession{}, err
	}
	if status < 200 || status >= 300 {
		return policies.CheckoutSession{}, fmt.Errorf("gateway: session request failed with status %d", status)
	}
	session := policies.CheckoutSession{
		ID:       resp.ID,
		URL:      resp.URL,
		IntentID: resp.PaymentIntent,
	}
	if resp.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	return session, nil
}

func (c *Client) ExpireSession(ctx context.Context, sessionID string) error {
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID) + "/expire"
	var resp struct {
		Status string `json:"status"`
	}
	status, err := c.post(ctx, path, url.Values{}, "", &resp)
	if err != nil {
		return err
	}
	// Expiring a session that already completed or expired is not a fault.
	if status == http.StatusNotFound || (status >= 200 && status < 300) {
		return nil
	}
	if status == http.StatusBadRequest {
		c.logger.Debug("session not expirable", slog.String("session_id", sessionID))
		return nil
	}
	return fmt.Errorf("gateway: expire session failed with status %d", status)
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateRefund(ctx context.Context, params policies.RefundParams) (policies.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", params.IntentID)
	form.Set("amount", strconv.FormatInt(params.Amount.Cents, 10))
	if params.Reason != "" {
		form.Set("reason", params.Reason)
	}
	form.Set("metadata[payment_id]", params.PaymentID)

	var resp refundResponse
	status, err := c.post(ctx, "/v1/refunds", form, "", &resp)
	if err != nil {
		return policies.RefundResult{}, err
	}
	if status < 200 || status >= 300 {
		return policies.RefundResult{}, fmt.Errorf("gateway: refund request failed with status %d", status)
	}
	return policies.RefundResult{RefundID: resp.ID, Status: refundStatus(resp.Status)}, nil
}

func refundStatus(s string) domainpayment.RefundStatus {
	switch s {
	case "succeeded":
		return domainpayment.RefundPaid
	case "failed", "canceled":
		return domainpayment.RefundFailed
	default:
		return domainpayment.RefundPending
	}
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway: %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("gateway: decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// amountFrom converts a gateway minor-unit amount to Money.
func amountFrom(cents int64, currency string) money.Money {
	if currency == "" {
		return money.MXN(cents)
	}
	return money.Money{Cents: cents, Currency: strings.ToUpper(currency)}
}
