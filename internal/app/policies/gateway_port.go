package policies

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Gateway abstracts the external payment processor. Implementations must be
// safe to call concurrently and must never be invoked while a unit of work
// holds row locks.
type Gateway interface {
	// CreateOffSessionCharge attempts an immediate charge against a stored
	// payment method. Hard declines surface as *DeclinedError, charges that
	// need customer authentication as *ActionRequiredError; anything else
	// is transient.
	CreateOffSessionCharge(ctx context.Context, params OffSessionChargeParams) (Charge, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (CheckoutSession, error)
	ExpireSession(ctx context.Context, sessionID string) error
	CreateRefund(ctx context.Context, params RefundParams) (RefundResult, error)
	// VerifyWebhook authenticates and parses an inbound event.
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}

type OffSessionChargeParams struct {
	Amount          money.Money
	CustomerID      string
	PaymentMethodID string
	Description     string
	BookingID       string
	PaymentID       string
	PaymentType     string
	IdempotencyKey  string
}

type Charge struct {
	IntentID string
}

type CheckoutSessionParams struct {
	Amount        money.Money
	Name          string
	Description   string
	CustomerID    string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// SaveMethod asks the gateway to store the payment method for later
	// off-session charges.
	SaveMethod        bool
	ClientReferenceID string
	BookingID         string
	PaymentID         string
	PaymentType       string
	ChangeLogID       string
}

type CheckoutSession struct {
	ID        string
	URL       string
	IntentID  string
	ExpiresAt time.Time
}

type RefundParams struct {
	IntentID  string
	PaymentID string
	Amount    money.Money
	Reason    string
}

type RefundResult struct {
	RefundID string
	Status   domainpayment.RefundStatus
}

// DeclinedError is a hard card decline: terminal for the attempt.
type DeclinedError struct {
	IntentID string
	Code     string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("gateway: charge declined (%s)", e.Code)
}

// ActionRequiredError means the charge needs customer authentication; the
// caller falls back to a hosted checkout link.
type ActionRequiredError struct {
	IntentID string
}

func (e *ActionRequiredError) Error() string {
	return "gateway: charge requires customer action"
}

var ErrInvalidSignature = errors.New("gateway: invalid webhook payload or signature")

type WebhookEventKind string

const (
	EventCheckoutCompleted WebhookEventKind = "checkout.session.completed"
	EventChargeFailed      WebhookEventKind = "payment_intent.payment_failed"
	EventRefundUpdated     WebhookEventKind = "refund.updated"
	EventChargeRefunded    WebhookEventKind = "charge.refunded"
)

// WebhookEvent is the parsed, verified form of one gateway callback. Exactly
// one of the payload fields matching Kind is populated.
type WebhookEvent struct {
	ID   string
	Kind WebhookEventKind

	CheckoutCompleted *CheckoutCompletedEvent
	ChargeFailed      *ChargeFailedEvent
	Refunds           []RefundEventObject
}

type CheckoutCompletedEvent struct {
	SessionID       string
	IntentID        string
	CustomerID      string
	PaymentMethodID string
	BookingID       string
	PaymentID       string
}

type ChargeFailedEvent struct {
	IntentID string
}

type RefundEventObject struct {
	GatewayRefundID string
	IntentID        string
	PaymentID       string
	Amount          money.Money
	Status          domainpayment.RefundStatus
}
