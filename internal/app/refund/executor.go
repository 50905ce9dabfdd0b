package refund

import (
	"context"
	"log/slog"
	"time"

	"estancias/internal/app/ledger"
	"estancias/internal/app/policies"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Executor issues gateway refunds and records the observed outcome. Always
// invoked after the transaction that decided the refund has committed; the
// gateway call runs between units of work and the write re-locks the
// booking. Failures are logged, never propagated, since the refund webhook
// will reconcile state eventually.
type Executor struct {
	uowf    uow.Factory
	gateway policies.Gateway
	ledger  *ledger.Ledger
	logger  *slog.Logger
	now     func() time.Time
}

func NewExecutor(uowf uow.Factory, gw policies.Gateway, led *ledger.Ledger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{uowf: uowf, gateway: gw, ledger: led, logger: logger, now: time.Now}
}

// WithClock overrides the time source for tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute refunds the given amount off one payment.
func (e *Executor) Execute(ctx context.Context, bookingID booking.BookingID, paymentID payment.PaymentID, amount money.Money) {
	target, err := e.readPayment(ctx, paymentID)
	if err != nil {
		e.logger.Error("refund target not loadable",
			slog.String("payment_id", string(paymentID)), slog.Any("error", err))
		return
	}
	if target.IntentID == "" {
		e.logger.Warn("refund skipped, payment has no gateway intent",
			slog.String("payment_id", string(paymentID)))
		return
	}

	res, err := e.gateway.CreateRefund(ctx, policies.RefundParams{
		IntentID:  target.IntentID,
		PaymentID: string(paymentID),
		Amount:    amount,
		Reason:    "requested_by_customer",
	})
	if err != nil {
		e.logger.Error("refund request failed",
			slog.String("payment_id", string(paymentID)), slog.Any("error", err))
		return
	}

	uw, err := e.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		e.logger.Error("refund record unit not started", slog.Any("error", err))
		return
	}
	defer uw.Rollback(ctx)
	if _, err := uw.Bookings().ByIDForUpdate(ctx, bookingID); err != nil {
		e.logger.Error("refund record lock failed",
			slog.String("booking_id", string(bookingID)), slog.Any("error", err))
		return
	}
	p, err := uw.Payments().ByID(ctx, paymentID)
	if err != nil {
		e.logger.Error("refund record payment missing",
			slog.String("payment_id", string(paymentID)), slog.Any("error", err))
		return
	}
	status := res.Status
	if status == "" {
		status = payment.RefundPending
	}
	if _, err := e.ledger.RecordRefund(ctx, uw, p, res.RefundID, amount, status); err != nil {
		e.logger.Error("refund record failed",
			slog.String("payment_id", string(paymentID)), slog.Any("error", err))
		return
	}
	if err := uw.Commit(ctx); err != nil {
		e.logger.Error("refund record commit failed", slog.Any("error", err))
	}
}

func (e *Executor) readPayment(ctx context.Context, id payment.PaymentID) (*payment.Payment, error) {
	uw, err := e.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)
	return uw.Payments().ByID(ctx, id)
}
