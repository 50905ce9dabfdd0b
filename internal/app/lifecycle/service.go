package lifecycle

import (
	"context"
	"errors"
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
	"estancias/internal/app/schedule"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/pricing"
	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

var (
	// ErrNotAvailable rejects a window the availability oracle turned down.
	ErrNotAvailable = errors.New("lifecycle: requested dates are not available")
)

// Service drives the booking state machine: creation, deposit checkout,
// cancellation with its refund/penalty side effects, the expiry sweeps and
// remakes of cancelled stays.
type Service struct {
	uowf      uow.Factory
	oracle    *availability.Oracle
	ledger    *ledger.Ledger
	gateway   policies.Gateway
	orch      *charge.Orchestrator
	refunds   *refund.Executor
	scheduler schedule.Scheduler
	notifier  policies.Notifier
	encoder   outbox.EventEncoder
	urls      charge.URLs
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	loc       *time.Location
}

type ServiceParams struct {
	UnitOfWork uow.Factory
	Oracle     *availability.Oracle
	Ledger     *ledger.Ledger
	Gateway    policies.Gateway
	Charges    *charge.Orchestrator
	Scheduler  schedule.Scheduler
	Notifier   policies.Notifier
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
		uowf:      params.UnitOfWork,
		oracle:    params.Oracle,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		orch:      params.Charges,
		refunds:   refund.NewExecutor(params.UnitOfWork, params.Gateway, params.Ledger, logger),
		scheduler: params.Scheduler,
		notifier:  params.Notifier,
		encoder:   outbox.JSONEventEncoder{},
		urls:      params.URLs,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		loc:       loc,
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

// GetBooking reads one booking without locks.
func (s *Service) GetBooking(ctx context.Context, bookingID booking.BookingID) (*booking.Booking, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)
	return uw.Bookings().ByID(ctx, bookingID)
}

// QuoteStay prices a stay at a property without touching state.
func (s *Service) QuoteStay(ctx context.Context, propertyID property.PropertyID, checkIn, checkOut time.Time) (pricing.Quote, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return pricing.Quote{}, err
	}
	defer uw.Rollback(ctx)
	p, err := uw.Properties().ByID(ctx, propertyID)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.ComputeQuote(p.NightlyRate, p.CleaningFee, checkIn, checkOut)
}

type CreateBookingParams struct {
	PropertyID property.PropertyID
	GuestID    string
	GuestEmail string
	CheckIn    time.Time
	CheckOut   time.Time
	PartySize  int
}

// CreateBooking places a pending booking holding its window for 30 minutes.
// Availability is checked twice: a cheap read up front, then again under the
// property row lock right before the insert.
func (s *Service) CreateBooking(ctx context.Context, params CreateBookingParams) (*booking.Booking, error) {
	prop, err := s.loadProperty(ctx, params.PropertyID)
	if err != nil {
		return nil, err
	}
	query := availability.Query{
		Property:  prop,
		CheckIn:   params.CheckIn,
		CheckOut:  params.CheckOut,
		PartySize: params.PartySize,
	}
	if !s.oracle.IsAvailable(ctx, query) {
		return nil, ErrNotAvailable
	}

	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)

	// Serialize against concurrent creates and date changes, then re-check.
	if _, err := uw.Properties().ByIDForUpdate(ctx, params.PropertyID); err != nil {
		return nil, err
	}
	if !s.oracle.IsAvailable(ctx, query) {
		return nil, ErrNotAvailable
	}

	b, err := s.buildBooking(prop, params)
	if err != nil {
		return nil, err
	}
	if err := s.saveWithEvents(ctx, uw, b); err != nil {
		return nil, err
	}
	if err := uw.Commit(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("booking created",
		slog.String("booking_id", string(b.ID)),
		slog.String("property_id", string(prop.ID)),
		slog.String("total", b.TotalAmount.String()))
	return b, nil
}

func (s *Service) buildBooking(prop *property.Property, params CreateBookingParams) (*booking.Booking, error) {
	stay, err := s.stayRange(params.CheckIn, params.CheckOut)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.ComputeQuote(prop.NightlyRate, prop.CleaningFee, stay.CheckIn, stay.CheckOut)
	if err != nil {
		return nil, err
	}
	return booking.NewBooking(booking.CreateParams{
		ID:         booking.BookingID(s.newID()),
		PropertyID: prop.ID,
		GuestID:    params.GuestID,
		GuestEmail: params.GuestEmail,
		Range:      stay,
		PartySize:  params.PartySize,
		Total:      quote.Total,
		Deposit:    quote.Total.Percent(booking.DepositRatePercent),
		CreatedAt:  s.now(),
	})
}

// CheckoutInfo is what the web layer needs to send the guest to pay.
type CheckoutInfo struct {
	PaymentID   payment.PaymentID
	CheckoutURL string
	HoldExpires time.Time
}

// StartCheckout re-arms the hold, re-syncs a stale quote and hands out the
// deposit checkout link. Safe to call repeatedly before the deposit lands;
// an unexpired session for the same amount is reused.
func (s *Service) StartCheckout(ctx context.Context, bookingID booking.BookingID) (CheckoutInfo, error) {
	prep, err := s.prepareDeposit(ctx, bookingID)
	if err != nil {
		return CheckoutInfo{}, err
	}
	if prep.reusableURL != "" {
		return CheckoutInfo{PaymentID: prep.paymentID, CheckoutURL: prep.reusableURL, HoldExpires: prep.holdExpires}, nil
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, policies.CheckoutSessionParams{
		Amount:            prep.amount,
		Name:              fmt.Sprintf("Stay deposit, booking %s", bookingID),
		Description:       fmt.Sprintf("Deposit for %s", prep.propertyName),
		CustomerEmail:     prep.guestEmail,
		SuccessURL:        s.urls.Success,
		CancelURL:         s.urls.Cancel,
		SaveMethod:        true,
		ClientReferenceID: fmt.Sprintf("booking-%s-deposit", bookingID),
		BookingID:         string(bookingID),
		PaymentID:         string(prep.paymentID),
		PaymentType:       string(payment.TypeDeposit),
	})
	if err != nil {
		return CheckoutInfo{}, fmt.Errorf("lifecycle: deposit session for booking %s: %w", bookingID, err)
	}

	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return CheckoutInfo{}, err
	}
	defer uw.Rollback(ctx)
	if _, err := uw.Bookings().ByIDForUpdate(ctx, bookingID); err != nil {
		return CheckoutInfo{}, err
	}
	p, err := uw.Payments().ByID(ctx, prep.paymentID)
	if err != nil {
		return CheckoutInfo{}, err
	}
	p.AttachSession(session.ID, session.IntentID, session.URL, session.ExpiresAt, s.now())
	if err := uw.Payments().Save(ctx, p); err != nil {
		return CheckoutInfo{}, err
	}
	if err := uw.Commit(ctx); err != nil {
		return CheckoutInfo{}, err
	}
	return CheckoutInfo{PaymentID: prep.paymentID, CheckoutURL: session.URL, HoldExpires: prep.holdExpires}, nil
}

type depositPrep struct {
	paymentID    payment.PaymentID
	amount       money.Money
	guestEmail   string
	propertyName string
	holdExpires  time.Time
	reusableURL  string
}

func (s *Service) prepareDeposit(ctx context.Context, bookingID booking.BookingID) (depositPrep, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return depositPrep{}, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return depositPrep{}, err
	}
	if b.Status != booking.StatusPending || b.HoldExpired(s.now()) {
		return depositPrep{}, booking.ErrNotPayable
	}
	prop, err := uw.Properties().ByID(ctx, b.PropertyID)
	if err != nil {
		return depositPrep{}, err
	}

	// A rate change between creation and checkout must not let the guest pay
	// a stale price.
	quote, err := pricing.ComputeQuote(prop.NightlyRate, prop.CleaningFee, b.Range.CheckIn, b.Range.CheckOut)
	if err != nil {
		return depositPrep{}, err
	}
	deposit := quote.Total.Percent(booking.DepositRatePercent)
	if b.TotalAmount.Cmp(quote.Total) != 0 {
		b.SyncQuote(quote.Total, deposit, s.now())
	}
	if err := b.RefreshHold(s.now()); err != nil {
		return depositPrep{}, err
	}
	if err := s.saveWithEvents(ctx, uw, b); err != nil {
		return depositPrep{}, err
	}

	p, err := s.ledger.EnsureActivePayment(ctx, uw, b, payment.TypeDeposit, payment.Standalone(), deposit)
	if err != nil {
		return depositPrep{}, err
	}
	prep := depositPrep{
		paymentID:    p.ID,
		amount:       deposit,
		guestEmail:   b.GuestEmail,
		propertyName: prop.Name,
		holdExpires:  b.HoldExpiresAt,
	}
	if p.SessionReusable(deposit, s.now()) {
		prep.reusableURL = p.CheckoutURL
	}
	if err := uw.Commit(ctx); err != nil {
		return depositPrep{}, err
	}
	return prep, nil
}

// Remake spawns a fresh pending booking from a cancelled one, subject to the
// window still being available.
func (s *Service) Remake(ctx context.Context, bookingID booking.BookingID) (*booking.Booking, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)

	old, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	prop, err := uw.Properties().ByIDForUpdate(ctx, old.PropertyID)
	if err != nil {
		return nil, err
	}
	if !s.oracle.IsAvailable(ctx, availability.Query{
		Property:  prop,
		CheckIn:   old.Range.CheckIn,
		CheckOut:  old.Range.CheckOut,
		PartySize: old.PartySize,
	}) {
		return nil, ErrNotAvailable
	}
	fresh, err := old.Remake(booking.BookingID(s.newID()), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.saveWithEvents(ctx, uw, fresh); err != nil {
		return nil, err
	}
	if err := uw.Commit(ctx); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Service) stayRange(checkIn, checkOut time.Time) (daterange.DateRange, error) {
	return daterange.NewStay(checkIn, checkOut, s.loc)
}

func (s *Service) loadProperty(ctx context.Context, id property.PropertyID) (*property.Property, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)
	return uw.Properties().ByID(ctx, id)
}

func (s *Service) saveWithEvents(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking) error {
	if err := outbox.RecordDomainEvents(ctx, uw.Outbox(), s.encoder, b.PendingEvents()); err != nil {
		return err
	}
	b.ClearEvents()
	return uw.Bookings().Save(ctx, b)
}
