package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Ledger owns the invariant-preserving payment mutations and the aggregate
// read paths. Every write entry point assumes the caller already holds the
// booking row lock inside the given unit of work.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock overrides the time source for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithIDGenerator overrides payment id generation for tests.
func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.newID = gen
	return l
}

// EnsureActivePayment returns the most recent open payment of the given
// type and role, refreshing a stale amount, or creates a new pending one.
// Any older open siblings of the same type and role are superseded so the
// booking never carries two live attempts for one economic event.
func (l *Ledger) EnsureActivePayment(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking, typ payment.Type, role payment.Role, amount money.Money) (*payment.Payment, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(b.ID))
	if err != nil {
		return nil, err
	}
	active := filterActive(all, typ, role)
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	now := l.now()
	for _, stale := range activeLosers(active) {
		stale.Supersede(now)
		if err := uw.Payments().Save(ctx, stale); err != nil {
			return nil, err
		}
	}

	if len(active) > 0 {
		current := active[len(active)-1]
		if current.Amount.Cmp(amount) != 0 {
			if err := current.UpdateAmount(amount, now); err != nil {
				return nil, err
			}
			if err := uw.Payments().Save(ctx, current); err != nil {
				return nil, err
			}
		}
		return current, nil
	}

	created := payment.New(payment.CreateParams{
		ID:                payment.PaymentID(l.newID()),
		BookingID:         string(b.ID),
		Type:              typ,
		Role:              role,
		Amount:            amount,
		ClientReferenceID: fmt.Sprintf("booking-%s-%s", b.ID, typ),
		IdempotencyKey:    l.newID(),
		CreatedAt:         now,
	})
	if err := uw.Payments().Save(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// PaidDepositTotal is the authoritative retained deposit figure: amounts of
// paid deposit payments minus what has been refunded off them. Robust to
// multiple top-ups.
func (l *Ledger) PaidDepositTotal(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID) (money.Money, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return money.Money{}, err
	}
	total := money.MXN(0)
	for _, p := range all {
		if p.Type != payment.TypeDeposit || !p.IsPaid() {
			continue
		}
		total, err = addRetained(total, p)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// BalanceDueSnapshot recomputes what is still owed from the payment history
// rather than the booking's cached balance field, so it self-heals from any
// partial-refund or top-up history. Floored at zero.
func (l *Ledger) BalanceDueSnapshot(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking) (money.Money, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(b.ID))
	if err != nil {
		return money.Money{}, err
	}
	retained := b.TotalAmount.Zero()
	for _, p := range all {
		if !p.IsPaid() {
			continue
		}
		if p.Type != payment.TypeDeposit && p.Type != payment.TypeBalance {
			continue
		}
		retained, err = addRetained(retained, p)
		if err != nil {
			return money.Money{}, err
		}
	}
	due, err := b.TotalAmount.Sub(retained)
	if err != nil {
		return money.Money{}, err
	}
	return due.FloorZero(), nil
}

// HasPaidPayment reports whether the booking holds a paid payment of the
// given type.
func (l *Ledger) HasPaidPayment(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID, typ payment.Type) (bool, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return false, err
	}
	for _, p := range all {
		if p.Type == typ && p.IsPaid() {
			return true, nil
		}
	}
	return false, nil
}

// RecordRefund applies one observed gateway refund onto its payment. The
// RefundLog insert is the idempotency gate: a replayed gateway refund id is
// silently dropped and reported as not applied.
func (l *Ledger) RecordRefund(ctx context.Context, uw uow.UnitOfWork, p *payment.Payment, gatewayRefundID string, amount money.Money, outcome payment.RefundStatus) (applied bool, err error) {
	now := l.now()
	err = uw.RefundLogs().Insert(ctx, payment.RefundLog{
		ID:              l.newID(),
		GatewayRefundID: gatewayRefundID,
		PaymentID:       p.ID,
		Amount:          amount,
		Outcome:         outcome,
		ObservedAt:      now.UTC(),
	})
	if errors.Is(err, payment.ErrDuplicateRefund) {
		l.logger.Debug("duplicate gateway refund dropped",
			slog.String("payment_id", string(p.ID)), slog.String("refund_id", gatewayRefundID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := p.ApplyRefund(amount, outcome, now); err != nil {
		return false, err
	}
	if err := uw.Payments().Save(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

func filterActive(all []*payment.Payment, typ payment.Type, role payment.Role) []*payment.Payment {
	var out []*payment.Payment
	for _, p := range all {
		if p.Type != typ || !p.Active() {
			continue
		}
		if p.Role.Kind != role.Kind || p.Role.ChangeLogID != role.ChangeLogID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// activeLosers is every open sibling except the most recent one.
func activeLosers(sorted []*payment.Payment) []*payment.Payment {
	if len(sorted) <= 1 {
		return nil
	}
	return sorted[:len(sorted)-1]
}

func addRetained(total money.Money, p *payment.Payment) (money.Money, error) {
	kept, err := p.Amount.Sub(p.RefundedAmount)
	if err != nil {
		return money.Money{}, err
	}
	return total.Add(kept.FloorZero())
}
