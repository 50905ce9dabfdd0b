package charge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"estancias/internal/app/ledger"
	"estancias/internal/app/policies"
	"estancias/internal/app/schedule"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Outcome is the terminal classification of one charge attempt.
type Outcome string

const (
	OutcomeAlreadyPaid    Outcome = "already_paid"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeMissingMethod  Outcome = "missing_method"
	OutcomePaid           Outcome = "paid"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeFailed         Outcome = "failed"
)

// Result reports how a charge attempt ended. CheckoutURL is set only for
// requires_action, Reason only for skipped.
type Result struct {
	Outcome     Outcome
	PaymentID   payment.PaymentID
	CheckoutURL string
	Reason      string
}

// URLs are the hosted-checkout redirect targets.
type URLs struct {
	Success string
	Cancel  string
}

// Orchestrator attempts off-session charges with a hosted-checkout fallback.
// The same path serves balance collection and cancellation penalties. Row
// locks are held only around state reads and writes; every gateway call runs
// between units of work.
type Orchestrator struct {
	uowf      uow.Factory
	ledger    *ledger.Ledger
	gateway   policies.Gateway
	scheduler schedule.Scheduler
	notifier  policies.Notifier
	urls      URLs
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrchestrator(uowf uow.Factory, led *ledger.Ledger, gw policies.Gateway, sched schedule.Scheduler, notifier policies.Notifier, urls URLs, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		uowf:      uowf,
		ledger:    led,
		gateway:   gw,
		scheduler: sched,
		notifier:  notifier,
		urls:      urls,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ChargeWithFallback reserves the active payment for this economic event,
// attempts an off-session charge against the stored method and, when the
// gateway demands customer authentication, issues a hosted checkout link
// and notifies the guest.
func (o *Orchestrator) ChargeWithFallback(ctx context.Context, bookingID booking.BookingID, typ payment.Type, role payment.Role, amount money.Money, description string) (Result, error) {
	if !amount.IsPositive() {
		return Result{Outcome: OutcomeSkipped, Reason: "non-positive amount"}, nil
	}

	reserved, err := o.reservePayment(ctx, bookingID, typ, role, amount)
	if err != nil {
		return Result{}, err
	}
	if reserved.result != nil {
		return *reserved.result, nil
	}

	ch, err := o.gateway.CreateOffSessionCharge(ctx, policies.OffSessionChargeParams{
		Amount:          amount,
		CustomerID:      reserved.customerID,
		PaymentMethodID: reserved.methodID,
		Description:     description,
		BookingID:       string(bookingID),
		PaymentID:       string(reserved.paymentID),
		PaymentType:     string(typ),
		IdempotencyKey:  reserved.idempotencyKey,
	})

	var declined *policies.DeclinedError
	var actionRequired *policies.ActionRequiredError
	switch {
	case err == nil:
		if perr := o.settlePayment(ctx, bookingID, reserved.paymentID, func(p *payment.Payment, now time.Time) {
			p.MarkPaid(ch.IntentID, now)
		}); perr != nil {
			return Result{}, perr
		}
		return Result{Outcome: OutcomePaid, PaymentID: reserved.paymentID}, nil

	case errors.As(err, &declined):
		if perr := o.settlePayment(ctx, bookingID, reserved.paymentID, func(p *payment.Payment, now time.Time) {
			if declined.IntentID != "" {
				p.IntentID = declined.IntentID
			}
			p.MarkFailed(now)
		}); perr != nil {
			return Result{}, perr
		}
		o.logger.Info("off-session charge declined",
			slog.String("booking_id", string(bookingID)), slog.String("code", declined.Code))
		return Result{Outcome: OutcomeFailed, PaymentID: reserved.paymentID}, nil

	case errors.As(err, &actionRequired):
		return o.fallbackToCheckout(ctx, bookingID, reserved, typ, amount, description, actionRequired.IntentID)

	default:
		// Transient: leave the payment open for the scheduler to retry.
		return Result{}, fmt.Errorf("charge: off-session attempt for booking %s: %w", bookingID, err)
	}
}

type reservation struct {
	paymentID      payment.PaymentID
	idempotencyKey string
	customerID     string
	methodID       string
	guestEmail     string

	// result short-circuits the attempt when set.
	result *Result
}

func (o *Orchestrator) reservePayment(ctx context.Context, bookingID booking.BookingID, typ payment.Type, role payment.Role, amount money.Money) (reservation, error) {
	uw, err := o.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return reservation{}, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return reservation{}, err
	}

	if paid, err := o.paidPaymentFor(ctx, uw, bookingID, typ, role); err != nil {
		return reservation{}, err
	} else if paid != nil {
		if err := uw.Commit(ctx); err != nil {
			return reservation{}, err
		}
		return reservation{result: &Result{Outcome: OutcomeAlreadyPaid, PaymentID: paid.ID}}, nil
	}

	p, err := o.ledger.EnsureActivePayment(ctx, uw, b, typ, role, amount)
	if err != nil {
		return reservation{}, err
	}
	res := reservation{
		paymentID:      p.ID,
		idempotencyKey: p.IdempotencyKey,
		customerID:     b.GatewayCustomerID,
		methodID:       b.GatewayPaymentMethodID,
		guestEmail:     b.GuestEmail,
	}
	if err := uw.Commit(ctx); err != nil {
		return reservation{}, err
	}
	if !b.HasStoredMethod() {
		res.result = &Result{Outcome: OutcomeMissingMethod, PaymentID: p.ID}
	}
	return res, nil
}

func (o *Orchestrator) paidPaymentFor(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID, typ payment.Type, role payment.Role) (*payment.Payment, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Type == typ && p.Role == role && p.IsPaid() {
			return p, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) settlePayment(ctx context.Context, bookingID booking.BookingID, paymentID payment.PaymentID, mutate func(p *payment.Payment, now time.Time)) error {
	uw, err := o.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	defer uw.Rollback(ctx)

	if _, err := uw.Bookings().ByIDForUpdate(ctx, bookingID); err != nil {
		return err
	}
	p, err := uw.Payments().ByID(ctx, paymentID)
	if err != nil {
		return err
	}
	mutate(p, o.now())
	if err := uw.Payments().Save(ctx, p); err != nil {
		return err
	}
	return uw.Commit(ctx)
}

func (o *Orchestrator) fallbackToCheckout(ctx context.Context, bookingID booking.BookingID, reserved reservation, typ payment.Type, amount money.Money, description, intentID string) (Result, error) {
	// Record the requires_action outcome before the session call so a crash
	// between the two never loses the gateway's answer.
	var reusableURL string
	if err := o.settlePayment(ctx, bookingID, reserved.paymentID, func(p *payment.Payment, now time.Time) {
		p.MarkRequiresAction(intentID, "", now)
		if p.SessionReusable(amount, now) {
			reusableURL = p.CheckoutURL
		}
	}); err != nil {
		return Result{}, err
	}
	if reusableURL != "" {
		return Result{Outcome: OutcomeRequiresAction, PaymentID: reserved.paymentID, CheckoutURL: reusableURL}, nil
	}

	session, err := o.gateway.CreateCheckoutSession(ctx, policies.CheckoutSessionParams{
		Amount:            amount,
		Name:              description,
		Description:       description,
		CustomerID:        reserved.customerID,
		CustomerEmail:     reserved.guestEmail,
		SuccessURL:        o.urls.Success,
		CancelURL:         o.urls.Cancel,
		ClientReferenceID: fmt.Sprintf("booking-%s-%s", bookingID, typ),
		BookingID:         string(bookingID),
		PaymentID:         string(reserved.paymentID),
		PaymentType:       string(typ),
	})
	if err != nil {
		return Result{}, fmt.Errorf("charge: fallback session for booking %s: %w", bookingID, err)
	}

	uw, err := o.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer uw.Rollback(ctx)
	if _, err := uw.Bookings().ByIDForUpdate(ctx, bookingID); err != nil {
		return Result{}, err
	}
	p, err := uw.Payments().ByID(ctx, reserved.paymentID)
	if err != nil {
		return Result{}, err
	}
	p.AttachSession(session.ID, session.IntentID, session.URL, session.ExpiresAt, o.now())
	if err := uw.Payments().Save(ctx, p); err != nil {
		return Result{}, err
	}
	if o.notifier != nil && reserved.guestEmail != "" {
		email := reserved.guestEmail
		uw.AfterCommit(func(ctx context.Context) {
			err := o.notifier.Send(ctx, policies.Notification{
				RecipientEmail: email,
				Template:       policies.TemplatePaymentLink,
				Context: map[string]string{
					"booking_id":   string(bookingID),
					"checkout_url": session.URL,
					"amount":       amount.String(),
					"description":  description,
				},
			})
			if err != nil {
				o.logger.Warn("payment link notification failed",
					slog.String("booking_id", string(bookingID)), slog.Any("error", err))
			}
		})
	}
	if err := uw.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeRequiresAction, PaymentID: reserved.paymentID, CheckoutURL: session.URL}, nil
}
