package gatewayevents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"estancias/internal/app/charge"
	"estancias/internal/app/ledger"
	"estancias/internal/app/outbox"
	"estancias/internal/app/policies"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
)

// Processor applies verified gateway callbacks to the domain. The gateway
// retries delivery and may replay events in any order, so every handler is a
// no-op for unknown references and idempotent for repeats; the processor
// acknowledges (returns nil) everything it cannot act on rather than forcing
// endless redelivery.
type Processor struct {
	uowf    uow.Factory
	ledger  *ledger.Ledger
	orch    *charge.Orchestrator
	encoder outbox.EventEncoder
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(uowf uow.Factory, led *ledger.Ledger, orch *charge.Orchestrator, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		uowf:    uowf,
		ledger:  led,
		orch:    orch,
		encoder: outbox.JSONEventEncoder{},
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

func (p *Processor) Process(ctx context.Context, ev policies.WebhookEvent) error {
	switch ev.Kind {
	case policies.EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, ev.CheckoutCompleted)
	case policies.EventChargeFailed:
		return p.handleChargeFailed(ctx, ev.ChargeFailed)
	case policies.EventRefundUpdated, policies.EventChargeRefunded:
		return p.handleRefunds(ctx, ev.Refunds)
	default:
		p.logger.Debug("gateway event ignored", slog.String("kind", string(ev.Kind)))
		return nil
	}
}

// handleCheckoutCompleted settles the referenced payment, confirms the
// booking and, for a deposit top-up, finalizes the pending date change that
// was waiting for the money.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, ev *policies.CheckoutCompletedEvent) error {
	if ev == nil || ev.BookingID == "" || ev.PaymentID == "" {
		p.logger.Warn("checkout completed event missing references")
		return nil
	}
	uw, err := p.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, booking.BookingID(ev.BookingID))
	if errors.Is(err, booking.ErrNotFound) {
		p.logger.Warn("checkout completed for unknown booking", slog.String("booking_id", ev.BookingID))
		return nil
	}
	if err != nil {
		return err
	}
	pay, err := uw.Payments().ByID(ctx, payment.PaymentID(ev.PaymentID))
	if errors.Is(err, payment.ErrNotFound) {
		p.logger.Warn("checkout completed for unknown payment",
			slog.String("booking_id", ev.BookingID), slog.String("payment_id", ev.PaymentID))
		return nil
	}
	if err != nil {
		return err
	}

	now := p.now()
	pay.MarkPaid(ev.IntentID, now)
	if err := uw.Payments().Save(ctx, pay); err != nil {
		return err
	}

	if err := b.Confirm(ev.CustomerID, ev.PaymentMethodID, now); err != nil {
		// The booking ended before the money arrived. Keep the payment
		// recorded; reconciliation handles the refund.
		p.logger.Warn("payment completed for ended booking",
			slog.String("booking_id", ev.BookingID),
			slog.String("payment_id", ev.PaymentID),
			slog.String("status", string(b.Status)))
		if err := p.saveWithEvents(ctx, uw, b); err != nil {
			return err
		}
		return uw.Commit(ctx)
	}

	if pay.Role.IsTopup() {
		if err := p.finalizeTopup(ctx, uw, b, pay, now); err != nil {
			return err
		}
	}
	if err := p.saveWithEvents(ctx, uw, b); err != nil {
		return err
	}

	if p.orch != nil && b.Status == booking.StatusConfirmed {
		p.orch.RescheduleBalanceCharge(uw, b.ID, b.BalanceChargeTaskID, b.Range.CheckIn.Add(booking.BalanceChargeDelay))
	}
	if err := uw.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("checkout completed applied",
		slog.String("booking_id", ev.BookingID),
		slog.String("payment_id", ev.PaymentID),
		slog.Bool("topup", pay.Role.IsTopup()))
	return nil
}

// finalizeTopup moves the booking onto the change the paid top-up belongs
// to. A top-up for an already superseded change is money for a stale intent:
// the booking stays put and reconciliation sorts the money out.
func (p *Processor) finalizeTopup(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking, pay *payment.Payment, now time.Time) error {
	log, err := uw.ChangeLogs().ByIDForUpdate(ctx, pay.Role.ChangeLogID)
	if errors.Is(err, booking.ErrNotFound) {
		p.logger.Warn("top-up paid for unknown change log",
			slog.String("booking_id", string(b.ID)), slog.String("change_log_id", pay.Role.ChangeLogID))
		return nil
	}
	if err != nil {
		return err
	}
	if log.Status != booking.ChangePending {
		p.logger.Warn("top-up paid for non-pending change log",
			slog.String("booking_id", string(b.ID)),
			slog.String("change_log_id", log.ID),
			slog.String("status", string(log.Status)))
		return nil
	}

	paidDep, err := p.ledger.PaidDepositTotal(ctx, uw, b.ID)
	if err != nil {
		return err
	}
	b.ApplyDates(log.NewRange, log.NewTotal, paidDep, log.NewBalance, now)
	due, err := p.ledger.BalanceDueSnapshot(ctx, uw, b)
	if err != nil {
		return err
	}
	b.BalanceDue = due

	if err := log.MarkApplied(now); err != nil {
		return err
	}
	if err := uw.ChangeLogs().Save(ctx, log); err != nil {
		return err
	}
	if _, err := uw.ChangeLogs().SupersedePending(ctx, b.ID, log.ID, now); err != nil {
		return err
	}
	return p.voidOtherTopups(ctx, uw, b.ID, log.ID, now)
}

func (p *Processor) voidOtherTopups(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID, keepLogID string, now time.Time) error {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return err
	}
	for _, other := range all {
		if !other.Role.IsTopup() || !other.Active() || other.Role.ChangeLogID == keepLogID {
			continue
		}
		other.Void(now)
		if err := uw.Payments().Save(ctx, other); err != nil {
			return err
		}
	}
	return nil
}

// handleChargeFailed flips an open off-session attempt to requires_action so
// the guest gets a hosted link on the next charge pass. A failure reported
// for a payment that already settled is stale and ignored.
func (p *Processor) handleChargeFailed(ctx context.Context, ev *policies.ChargeFailedEvent) error {
	if ev == nil || ev.IntentID == "" {
		return nil
	}
	uw, err := p.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	defer uw.Rollback(ctx)

	ref, err := uw.Payments().ByIntentID(ctx, ev.IntentID)
	if errors.Is(err, payment.ErrNotFound) {
		p.logger.Debug("charge failed for unknown intent", slog.String("intent_id", ev.IntentID))
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := uw.Bookings().ByIDForUpdate(ctx, booking.BookingID(ref.BookingID)); err != nil {
		return err
	}
	pay, err := uw.Payments().ByID(ctx, ref.ID)
	if err != nil {
		return err
	}
	if !pay.Active() {
		return uw.Commit(ctx)
	}
	pay.MarkRequiresAction(ev.IntentID, "", p.now())
	if err := uw.Payments().Save(ctx, pay); err != nil {
		return err
	}
	if err := uw.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("charge failed recorded",
		slog.String("booking_id", ref.BookingID), slog.String("payment_id", string(pay.ID)))
	return nil
}

// handleRefunds records each refund object once; the refund log makes
// replayed deliveries no-ops.
func (p *Processor) handleRefunds(ctx context.Context, refunds []policies.RefundEventObject) error {
	for _, ref := range refunds {
		if err := p.recordOneRefund(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) recordOneRefund(ctx context.Context, ref policies.RefundEventObject) error {
	if ref.GatewayRefundID == "" {
		return nil
	}
	uw, err := p.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	defer uw.Rollback(ctx)

	target, err := p.resolvePayment(ctx, uw, ref)
	if err != nil {
		return err
	}
	if target == nil {
		p.logger.Warn("refund event for unknown payment",
			slog.String("refund_id", ref.GatewayRefundID), slog.String("intent_id", ref.IntentID))
		return nil
	}
	if _, err := uw.Bookings().ByIDForUpdate(ctx, booking.BookingID(target.BookingID)); err != nil {
		return err
	}
	pay, err := uw.Payments().ByID(ctx, target.ID)
	if err != nil {
		return err
	}
	applied, err := p.ledger.RecordRefund(ctx, uw, pay, ref.GatewayRefundID, ref.Amount, ref.Status)
	if err != nil {
		return err
	}
	if err := uw.Commit(ctx); err != nil {
		return err
	}
	if applied {
		p.logger.Info("gateway refund recorded",
			slog.String("payment_id", string(pay.ID)),
			slog.String("refund_id", ref.GatewayRefundID),
			slog.String("outcome", string(ref.Status)))
	}
	return nil
}

func (p *Processor) resolvePayment(ctx context.Context, uw uow.UnitOfWork, ref policies.RefundEventObject) (*payment.Payment, error) {
	if ref.PaymentID != "" {
		pay, err := uw.Payments().ByID(ctx, payment.PaymentID(ref.PaymentID))
		if err == nil {
			return pay, nil
		}
		if !errors.Is(err, payment.ErrNotFound) {
			return nil, err
		}
	}
	if ref.IntentID == "" {
		return nil, nil
	}
	pay, err := uw.Payments().ByIntentID(ctx, ref.IntentID)
	if errors.Is(err, payment.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pay, nil
}

func (p *Processor) saveWithEvents(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking) error {
	if err := outbox.RecordDomainEvents(ctx, uw.Outbox(), p.encoder, b.PendingEvents()); err != nil {
		return err
	}
	b.ClearEvents()
	return uw.Bookings().Save(ctx, b)
}
