package payment

import (
	"context"
	"errors"
	"time"

	"estancias/internal/domain/shared/money"
)

var (
	ErrNotFound        = errors.New("payment: not found")
	ErrInvalidState    = errors.New("payment: invalid status transition")
	ErrOverRefund      = errors.New("payment: refunded amount cannot exceed amount")
	ErrDuplicateRefund = errors.New("payment: gateway refund already recorded")
)

type PaymentID string

type Type string

const (
	TypeDeposit         Type = "deposit"
	TypeBalance         Type = "balance"
	TypeCancellationFee Type = "cancellation_fee"
	TypeNoShow          Type = "no_show"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPaid           Status = "paid"
	StatusFailed         Status = "failed"
	StatusRequiresAction Status = "requires_action"
	StatusVoid           Status = "void"
	StatusSuperseded     Status = "superseded"
	StatusExpired        Status = "expired"
)

type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundPending RefundStatus = "pending"
	RefundPaid    RefundStatus = "paid"
	RefundFailed  RefundStatus = "failed"
)

// RoleKind distinguishes a standalone payment from a deposit top-up that is
// correlated to a booking change log.
type RoleKind string

const (
	RoleStandalone   RoleKind = "standalone"
	RoleDepositTopup RoleKind = "deposit_topup"
)

// Role is the explicit correlation tag carried by a payment instead of a
// free-form metadata map.
type Role struct {
	Kind        RoleKind
	ChangeLogID string
}

func Standalone() Role {
	return Role{Kind: RoleStandalone}
}

func DepositTopup(changeLogID string) Role {
	return Role{Kind: RoleDepositTopup, ChangeLogID: changeLogID}
}

func (r Role) IsTopup() bool {
	return r.Kind == RoleDepositTopup
}

// Payment is one attempt to move money for a booking. Payments are never
// deleted; stale attempts are superseded or voided.
type Payment struct {
	ID                PaymentID
	BookingID         string
	Type              Type
	Role              Role
	Status            Status
	Amount            money.Money
	IntentID          string
	CheckoutSessionID string
	CheckoutURL       string
	RefundStatus      RefundStatus
	RefundedAmount    money.Money
	RefundCount       int
	LastRefundAt      time.Time
	ClientReferenceID string
	IdempotencyKey    string
	ExpiresAt         time.Time
	SupersededAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CreateParams struct {
	ID                PaymentID
	BookingID         string
	Type              Type
	Role              Role
	Amount            money.Money
	ClientReferenceID string
	IdempotencyKey    string
	CreatedAt         time.Time
}

func New(params CreateParams) *Payment {
	role := params.Role
	if role.Kind == "" {
		role = Standalone()
	}
	now := params.CreatedAt.UTC()
	return &Payment{
		ID:                params.ID,
		BookingID:         params.BookingID,
		Type:              params.Type,
		Role:              role,
		Status:            StatusPending,
		Amount:            params.Amount,
		RefundStatus:      RefundNone,
		RefundedAmount:    params.Amount.Zero(),
		ClientReferenceID: params.ClientReferenceID,
		IdempotencyKey:    params.IdempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Active reports whether this payment still represents an open attempt that
// may complete on the gateway side.
func (p *Payment) Active() bool {
	return p.Status == StatusPending || p.Status == StatusRequiresAction
}

func (p *Payment) IsPaid() bool {
	return p.Status == StatusPaid
}

// MarkPaid is idempotent: re-marking a paid payment is a no-op.
func (p *Payment) MarkPaid(intentID string, now time.Time) {
	if intentID != "" {
		p.IntentID = intentID
	}
	if p.Status == StatusPaid {
		return
	}
	p.Status = StatusPaid
	p.UpdatedAt = now.UTC()
}

func (p *Payment) MarkFailed(now time.Time) {
	p.Status = StatusFailed
	p.UpdatedAt = now.UTC()
}

// MarkRequiresAction records that the off-session attempt needs customer
// authentication and a fallback checkout session was (or will be) issued.
func (p *Payment) MarkRequiresAction(intentID, sessionID string, now time.Time) {
	if intentID != "" {
		p.IntentID = intentID
	}
	if sessionID != "" {
		p.CheckoutSessionID = sessionID
	}
	p.Status = StatusRequiresAction
	p.UpdatedAt = now.UTC()
}

// Void cancels an open attempt, typically because a sibling top-up won.
func (p *Payment) Void(now time.Time) {
	if !p.Active() {
		return
	}
	p.Status = StatusVoid
	p.UpdatedAt = now.UTC()
}

// MarkExpired retires an open attempt whose checkout window lapsed without
// payment.
func (p *Payment) MarkExpired(now time.Time) {
	if !p.Active() {
		return
	}
	p.Status = StatusExpired
	p.UpdatedAt = now.UTC()
}

// Supersede retires an open attempt that was replaced by a newer one.
func (p *Payment) Supersede(now time.Time) {
	if !p.Active() {
		return
	}
	p.Status = StatusSuperseded
	p.SupersededAt = now.UTC()
	p.UpdatedAt = now.UTC()
}

// UpdateAmount refreshes a stale pending amount before a new checkout
// session is issued for it.
func (p *Payment) UpdateAmount(amount money.Money, now time.Time) error {
	if !p.Active() {
		return ErrInvalidState
	}
	p.Amount = amount
	p.UpdatedAt = now.UTC()
	return nil
}

func (p *Payment) AttachSession(sessionID, intentID, url string, expiresAt, now time.Time) {
	p.CheckoutSessionID = sessionID
	if intentID != "" {
		p.IntentID = intentID
	}
	if url != "" {
		p.CheckoutURL = url
	}
	if !expiresAt.IsZero() {
		p.ExpiresAt = expiresAt.UTC()
	}
	p.UpdatedAt = now.UTC()
}

// SessionReusable reports whether the previously issued checkout session can
// be handed out again for the same economic event and amount.
func (p *Payment) SessionReusable(amount money.Money, now time.Time) bool {
	if p.CheckoutSessionID == "" || !p.Active() {
		return false
	}
	if p.Amount.Cmp(amount) != 0 {
		return false
	}
	return p.ExpiresAt.IsZero() || p.ExpiresAt.After(now)
}

// ApplyRefund records one observed gateway refund. The caller is responsible
// for the RefundLog idempotency gate; this mutator assumes a first sighting.
func (p *Payment) ApplyRefund(amount money.Money, outcome RefundStatus, now time.Time) error {
	if outcome == RefundPaid {
		next, err := p.RefundedAmount.Add(amount)
		if err != nil {
			return err
		}
		if next.Cmp(p.Amount) > 0 {
			return ErrOverRefund
		}
		p.RefundedAmount = next
	}
	p.RefundCount++
	p.RefundStatus = outcome
	p.LastRefundAt = now.UTC()
	p.UpdatedAt = now.UTC()
	return nil
}

// RefundableRemainder is what is still refundable on a paid payment.
func (p *Payment) RefundableRemainder() money.Money {
	rem, err := p.Amount.Sub(p.RefundedAmount)
	if err != nil {
		return p.Amount.Zero()
	}
	return rem.FloorZero()
}

type Repository interface {
	ByID(ctx context.Context, id PaymentID) (*Payment, error)
	ByIntentID(ctx context.Context, intentID string) (*Payment, error)
	ListByBooking(ctx context.Context, bookingID string) ([]*Payment, error)
	Save(ctx context.Context, p *Payment) error
}
