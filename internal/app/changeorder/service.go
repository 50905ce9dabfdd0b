package changeorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"estancias/internal/app/availability"
	"estancias/internal/app/charge"
	"estancias/internal/app/ledger"
	"estancias/internal/app/outbox"
	"estancias/internal/app/policies"
	"estancias/internal/app/refund"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/pricing"
	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

// ReasonNotAvailable is the rejection reason for a window the oracle turned
// down.
const ReasonNotAvailable = "not_available"

// Quote is the financial consequence of moving a booking to a new window.
type Quote struct {
	OK     bool
	Reason string

	NewRange      daterange.DateRange
	Nights        int
	NewTotal      money.Money
	PaidDeposit   money.Money
	DepositTarget money.Money
	DepositTopup  money.Money
	DepositRefund money.Money
	NextBalance   money.Money
}

// ApplyResult describes how a change landed. With a top-up owed the booking
// is untouched and CheckoutURL collects the difference; otherwise the
// booking moved immediately and RefundQueued reports whether money flows
// back.
type ApplyResult struct {
	OK     bool
	Reason string

	Quote        Quote
	ChangeLogID  string
	CheckoutURL  string
	RefundQueued bool
}

// Service implements the date-change workflow: quoting a window move and
// applying it with asymmetric commit timing. An increase defers the booking
// mutation until the top-up is paid; a decrease applies immediately since it
// only reduces what the business is owed.
type Service struct {
	uowf    uow.Factory
	oracle  *availability.Oracle
	ledger  *ledger.Ledger
	gateway policies.Gateway
	orch    *charge.Orchestrator
	refunds *refund.Executor
	encoder outbox.EventEncoder
	urls    charge.URLs
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	loc     *time.Location
}

type ServiceParams struct {
	UnitOfWork uow.Factory
	Oracle     *availability.Oracle
	Ledger     *ledger.Ledger
	Gateway    policies.Gateway
	Charges    *charge.Orchestrator
	URLs       charge.URLs
	Logger     *slog.Logger
	Location   *time.Location
}

func NewService(params ServiceParams) *Service {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		uowf:    params.UnitOfWork,
		oracle:  params.Oracle,
		ledger:  params.Ledger,
		gateway: params.Gateway,
		orch:    params.Charges,
		refunds: refund.NewExecutor(params.UnitOfWork, params.Gateway, params.Ledger, logger),
		encoder: outbox.JSONEventEncoder{},
		urls:    params.URLs,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		loc:     loc,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.refunds.WithClock(now)
	return s
}

// WithIDGenerator overrides id generation for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.newID = gen
	return s
}

// QuoteChange prices a window move without committing to anything. The
// availability read here is best effort; ApplyChange re-validates under the
// property lock.
func (s *Service) QuoteChange(ctx context.Context, bookingID booking.BookingID, newCheckIn, newCheckOut time.Time) (Quote, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return Quote{}, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByID(ctx, bookingID)
	if err != nil {
		return Quote{}, err
	}
	prop, err := uw.Properties().ByID(ctx, b.PropertyID)
	if err != nil {
		return Quote{}, err
	}
	return s.computeQuote(ctx, uw, b, prop, newCheckIn, newCheckOut)
}

func (s *Service) computeQuote(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking, prop *property.Property, newCheckIn, newCheckOut time.Time) (Quote, error) {
	if !s.oracle.IsAvailable(ctx, availability.Query{
		Property:         prop,
		CheckIn:          newCheckIn,
		CheckOut:         newCheckOut,
		PartySize:        b.PartySize,
		ExcludeBookingID: b.ID,
	}) {
		return Quote{Reason: ReasonNotAvailable}, nil
	}

	newRange, err := daterange.NewStay(newCheckIn, newCheckOut, s.loc)
	if err != nil {
		return Quote{Reason: ReasonNotAvailable}, nil
	}
	priced, err := pricing.ComputeQuote(prop.NightlyRate, prop.CleaningFee, newRange.CheckIn, newRange.CheckOut)
	if err != nil {
		return Quote{}, err
	}
	paidDep, err := s.ledger.PaidDepositTotal(ctx, uw, b.ID)
	if err != nil {
		return Quote{}, err
	}
	return buildQuote(b.TotalAmount, priced, paidDep, newRange), nil
}

// buildQuote holds the change arithmetic. An increased total raises the
// deposit target to 30% of the new total and the difference becomes a
// top-up; a decreased total refunds whatever paid deposit now exceeds it.
func buildQuote(oldTotal money.Money, priced pricing.Quote, paidDep money.Money, newRange daterange.DateRange) Quote {
	q := Quote{
		OK:            true,
		NewRange:      newRange,
		Nights:        priced.Nights,
		NewTotal:      priced.Total,
		PaidDeposit:   paidDep,
		DepositTarget: priced.Total.Percent(booking.DepositRatePercent),
		DepositTopup:  priced.Total.Zero(),
		DepositRefund: priced.Total.Zero(),
	}

	if priced.Total.Cmp(oldTotal) >= 0 {
		topup, _ := q.DepositTarget.Sub(paidDep)
		q.DepositTopup = topup.FloorZero()
		retained, _ := paidDep.Add(q.DepositTopup)
		next, _ := priced.Total.Sub(retained)
		q.NextBalance = next.FloorZero()
		return q
	}

	if paidDep.Cmp(priced.Total) > 0 {
		over, _ := paidDep.Sub(priced.Total)
		q.DepositRefund = over
		q.NextBalance = priced.Total.Zero()
		return q
	}
	next, _ := priced.Total.Sub(paidDep)
	q.NextBalance = next.FloorZero()
	return q
}

// ApplyChange re-quotes inside a transaction holding row locks on the
// property and the booking, then either defers to a top-up checkout or
// mutates the booking immediately.
func (s *Service) ApplyChange(ctx context.Context, bookingID booking.BookingID, newCheckIn, newCheckOut time.Time, actorID string) (ApplyResult, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return ApplyResult{}, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return ApplyResult{}, err
	}
	switch b.Status {
	case booking.StatusPending, booking.StatusConfirmed:
	default:
		return ApplyResult{}, booking.ErrAlreadyEnded
	}
	prop, err := uw.Properties().ByIDForUpdate(ctx, b.PropertyID)
	if err != nil {
		return ApplyResult{}, err
	}

	quote, err := s.computeQuote(ctx, uw, b, prop, newCheckIn, newCheckOut)
	if err != nil {
		return ApplyResult{}, err
	}
	if !quote.OK {
		if err := uw.Commit(ctx); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Reason: quote.Reason, Quote: quote}, nil
	}

	if quote.DepositTopup.IsPositive() {
		return s.applyWithTopup(ctx, uw, b, prop, quote, actorID)
	}
	return s.applyImmediately(ctx, uw, b, quote, actorID)
}

// applyWithTopup records the intended change and collects the deposit
// difference before any booking mutation. The gateway event processor
// finishes the job when the top-up payment lands.
func (s *Service) applyWithTopup(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking, prop *property.Property, quote Quote, actorID string) (ApplyResult, error) {
	now := s.now()

	// Retrying the same quote reuses the pending log and its live session
	// instead of minting a new one.
	if existing, err := uw.ChangeLogs().PendingByBooking(ctx, b.ID); err != nil {
		return ApplyResult{}, err
	} else if existing != nil && sameChange(existing, quote) && existing.TopupPaymentID != "" {
		p, err := uw.Payments().ByID(ctx, existing.TopupPaymentID)
		if err == nil && p.SessionReusable(quote.DepositTopup, now) {
			if err := uw.Commit(ctx); err != nil {
				return ApplyResult{}, err
			}
			return ApplyResult{OK: true, Quote: quote, ChangeLogID: existing.ID, CheckoutURL: p.CheckoutURL}, nil
		}
	}

	log := s.newChangeLog(b, quote, actorID, now)
	if err := uw.ChangeLogs().Create(ctx, log); err != nil {
		return ApplyResult{}, err
	}
	if _, err := uw.ChangeLogs().SupersedePending(ctx, b.ID, log.ID, now); err != nil {
		return ApplyResult{}, err
	}
	if err := s.retireStaleTopups(ctx, uw, b.ID, log.ID, now); err != nil {
		return ApplyResult{}, err
	}

	topup, err := s.ledger.EnsureActivePayment(ctx, uw, b, payment.TypeDeposit, payment.DepositTopup(log.ID), quote.DepositTopup)
	if err != nil {
		return ApplyResult{}, err
	}
	guestEmail := b.GuestEmail
	if err := uw.Commit(ctx); err != nil {
		return ApplyResult{}, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, policies.CheckoutSessionParams{
		Amount:            quote.DepositTopup,
		Name:              fmt.Sprintf("Deposit top-up, booking %s", b.ID),
		Description:       fmt.Sprintf("Date change for %s", prop.Name),
		CustomerID:        b.GatewayCustomerID,
		CustomerEmail:     guestEmail,
		SuccessURL:        s.urls.Success,
		CancelURL:         s.urls.Cancel,
		SaveMethod:        true,
		ClientReferenceID: fmt.Sprintf("booking-%s-topup", b.ID),
		BookingID:         string(b.ID),
		PaymentID:         string(topup.ID),
		PaymentType:       string(payment.TypeDeposit),
		ChangeLogID:       log.ID,
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("changeorder: top-up session for booking %s: %w", b.ID, err)
	}

	if err := s.attachTopupSession(ctx, b.ID, log.ID, topup.ID, session); err != nil {
		return ApplyResult{}, err
	}
	s.logger.Info("date change awaiting top-up",
		slog.String("booking_id", string(b.ID)),
		slog.String("change_log_id", log.ID),
		slog.String("topup", quote.DepositTopup.String()))
	return ApplyResult{OK: true, Quote: quote, ChangeLogID: log.ID, CheckoutURL: session.URL}, nil
}

func (s *Service) attachTopupSession(ctx context.Context, bookingID booking.BookingID, logID string, paymentID payment.PaymentID, session policies.CheckoutSession) error {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
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
	p.AttachSession(session.ID, session.IntentID, session.URL, session.ExpiresAt, s.now())
	if err := uw.Payments().Save(ctx, p); err != nil {
		return err
	}
	log, err := uw.ChangeLogs().ByIDForUpdate(ctx, logID)
	if err != nil {
		return err
	}
	log.AttachTopup(paymentID, session.ID, s.now())
	if err := uw.ChangeLogs().Save(ctx, log); err != nil {
		return err
	}
	return uw.Commit(ctx)
}

// retireStaleTopups supersedes open top-up payments correlated to any other
// change log; only the newest change may ever collect money.
func (s *Service) retireStaleTopups(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID, keepLogID string, now time.Time) error {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return err
	}
	for _, p := range all {
		if !p.Role.IsTopup() || !p.Active() || p.Role.ChangeLogID == keepLogID {
			continue
		}
		p.Supersede(now)
		if err := uw.Payments().Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// applyImmediately moves the booking in place: the change only reduces (or
// keeps level) what the guest owes, so there is nothing to collect first.
func (s *Service) applyImmediately(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking, quote Quote, actorID string) (ApplyResult, error) {
	now := s.now()

	log := s.newChangeLog(b, quote, actorID, now)
	if err := log.MarkApplied(now); err != nil {
		return ApplyResult{}, err
	}
	if err := uw.ChangeLogs().Create(ctx, log); err != nil {
		return ApplyResult{}, err
	}
	if _, err := uw.ChangeLogs().SupersedePending(ctx, b.ID, log.ID, now); err != nil {
		return ApplyResult{}, err
	}
	if err := s.retireStaleTopups(ctx, uw, b.ID, log.ID, now); err != nil {
		return ApplyResult{}, err
	}

	depositNext, err := quote.PaidDeposit.Sub(quote.DepositRefund)
	if err != nil {
		return ApplyResult{}, err
	}
	prevTask := b.BalanceChargeTaskID
	b.ApplyDates(quote.NewRange, quote.NewTotal, depositNext.FloorZero(), quote.NextBalance, now)
	if err := outbox.RecordDomainEvents(ctx, uw.Outbox(), s.encoder, b.PendingEvents()); err != nil {
		return ApplyResult{}, err
	}
	b.ClearEvents()
	if err := uw.Bookings().Save(ctx, b); err != nil {
		return ApplyResult{}, err
	}

	if b.Status == booking.StatusConfirmed && s.orch != nil {
		s.orch.RescheduleBalanceCharge(uw, b.ID, prevTask, b.Range.CheckIn.Add(booking.BalanceChargeDelay))
	}

	result := ApplyResult{OK: true, Quote: quote, ChangeLogID: log.ID}
	if quote.DepositRefund.IsPositive() {
		target, err := s.latestPaidDeposit(ctx, uw, b.ID)
		if err != nil {
			return ApplyResult{}, err
		}
		if target != nil {
			bookingID := b.ID
			paymentID := target.ID
			amount := capAmount(quote.DepositRefund, target.RefundableRemainder())
			uw.AfterCommit(func(ctx context.Context) {
				s.refunds.Execute(ctx, bookingID, paymentID, amount)
			})
			result.RefundQueued = true
		}
	}

	if err := uw.Commit(ctx); err != nil {
		return ApplyResult{}, err
	}
	s.logger.Info("date change applied",
		slog.String("booking_id", string(b.ID)),
		slog.String("change_log_id", log.ID),
		slog.String("new_total", quote.NewTotal.String()),
		slog.Bool("refund_queued", result.RefundQueued))
	return result, nil
}

func (s *Service) newChangeLog(b *booking.Booking, quote Quote, actorID string, now time.Time) *booking.ChangeLog {
	return &booking.ChangeLog{
		ID:            s.newID(),
		BookingID:     b.ID,
		ActorID:       actorID,
		OldRange:      b.Range,
		NewRange:      quote.NewRange,
		OldTotal:      b.TotalAmount,
		NewTotal:      quote.NewTotal,
		PaidDeposit:   quote.PaidDeposit,
		DepositTopup:  quote.DepositTopup,
		DepositTarget: quote.DepositTarget,
		DepositRefund: quote.DepositRefund,
		OldBalance:    b.BalanceDue,
		NewBalance:    quote.NextBalance,
		Status:        booking.ChangePending,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

func (s *Service) latestPaidDeposit(ctx context.Context, uw uow.UnitOfWork, bookingID booking.BookingID) (*payment.Payment, error) {
	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return nil, err
	}
	var latest *payment.Payment
	for _, p := range all {
		if p.Type != payment.TypeDeposit || !p.IsPaid() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest, nil
}

func sameChange(log *booking.ChangeLog, quote Quote) bool {
	return log.NewRange.CheckIn.Equal(quote.NewRange.CheckIn) &&
		log.NewRange.CheckOut.Equal(quote.NewRange.CheckOut) &&
		log.NewTotal.Cmp(quote.NewTotal) == 0 &&
		log.DepositTopup.Cmp(quote.DepositTopup) == 0
}

func capAmount(want, limit money.Money) money.Money {
	if want.Cmp(limit) > 0 {
		return limit
	}
	return want
}
