package booking

import (
	"context"
	"errors"
	"time"

	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/events"
	"estancias/internal/domain/shared/money"
)

var (
	ErrInvalidParty = errors.New("booking: party size must be positive")
	ErrInvalidState = errors.New("booking: invalid status transition")
	ErrNotFound     = errors.New("booking: not found")
	ErrNotPayable   = errors.New("booking: only pending bookings can be paid")
	ErrAlreadyEnded = errors.New("booking: already cancelled or expired")
)

// HoldDuration is how long a pending booking blocks its dates while the
// guest completes the deposit checkout.
const HoldDuration = 30 * time.Minute

// DepositRatePercent of the total is collected up front to confirm.
const DepositRatePercent = 30

// BalanceChargeDelay after arrival before the outstanding balance is
// collected off-session.
const BalanceChargeDelay = 48 * time.Hour

type BookingID string

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Booking ties a guest to a property for a date window and tracks the
// deposit/balance split. Financial fields converge via the payment ledger;
// BalanceDue here is a cache, never the charging authority.
type Booking struct {
	ID         BookingID
	PropertyID property.PropertyID
	GuestID    string
	GuestEmail string
	Range      daterange.DateRange
	PartySize  int
	Status     Status

	TotalAmount   money.Money
	DepositAmount money.Money
	BalanceDue    money.Money

	HoldExpiresAt time.Time

	GatewayCustomerID      string
	GatewayPaymentMethodID string

	BalanceChargeTaskID string
	BalanceChargeETA    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64

	events.EventRecorder
}

type CreateParams struct {
	ID         BookingID
	PropertyID property.PropertyID
	GuestID    string
	GuestEmail string
	Range      daterange.DateRange
	PartySize  int
	Total      money.Money
	Deposit    money.Money
	CreatedAt  time.Time
}

// NewBooking creates a pending booking holding its dates for HoldDuration.
func NewBooking(params CreateParams) (*Booking, error) {
	if params.PartySize <= 0 {
		return nil, ErrInvalidParty
	}
	if params.GuestID == "" {
		return nil, errors.New("booking: guest id required")
	}
	if err := params.Range.Validate(); err != nil {
		return nil, err
	}
	now := params.CreatedAt.UTC()
	balance, err := params.Total.Sub(params.Deposit)
	if err != nil {
		return nil, err
	}
	b := &Booking{
		ID:            params.ID,
		PropertyID:    params.PropertyID,
		GuestID:       params.GuestID,
		GuestEmail:    params.GuestEmail,
		Range:         params.Range,
		PartySize:     params.PartySize,
		Status:        StatusPending,
		TotalAmount:   params.Total,
		DepositAmount: params.Deposit,
		BalanceDue:    balance,
		HoldExpiresAt: now.Add(HoldDuration),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.Record(BookingRequested{
		BaseEvent:  events.BaseEvent{Name: "booking.requested", Aggregate: string(b.ID), Time: now},
		PropertyID: string(b.PropertyID), GuestID: b.GuestID,
		CheckIn: b.Range.CheckIn, CheckOut: b.Range.CheckOut, Total: b.TotalAmount,
	})
	return b, nil
}

// HoldExpired reports whether a pending hold has lapsed. Such a booking no
// longer blocks availability even before the expiry sweep flips its status.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status == StatusPending && !b.HoldExpiresAt.IsZero() && !b.HoldExpiresAt.After(now)
}

// Departed reports a confirmed stay whose checkout has passed.
func (b *Booking) Departed(now time.Time) bool {
	return b.Status == StatusConfirmed && b.Range.CheckOut.Before(now)
}

// BlocksWindow decides whether this booking makes the given window
// unavailable at the given instant.
func (b *Booking) BlocksWindow(window daterange.DateRange, now time.Time) bool {
	switch b.Status {
	case StatusPending:
		if b.HoldExpired(now) {
			return false
		}
	case StatusConfirmed:
		if b.Range.CheckOut.Before(now) {
			return false
		}
	default:
		return false
	}
	return b.Range.Overlaps(window)
}

// RefreshHold re-arms the 30-minute hold on a repeated checkout attempt.
func (b *Booking) RefreshHold(now time.Time) error {
	if b.Status != StatusPending {
		return ErrNotPayable
	}
	b.HoldExpiresAt = now.UTC().Add(HoldDuration)
	b.UpdatedAt = now.UTC()
	return nil
}

// SyncQuote re-aligns cached financial fields with a fresh quote. Used on
// repeated checkout attempts before any money has moved.
func (b *Booking) SyncQuote(total, deposit money.Money, now time.Time) {
	balance, err := total.Sub(deposit)
	if err != nil {
		return
	}
	b.TotalAmount = total
	b.DepositAmount = deposit
	b.BalanceDue = balance.FloorZero()
	b.UpdatedAt = now.UTC()
}

// Confirm flips a pending booking after a successful deposit and captures
// the gateway references reused for later off-session charges.
func (b *Booking) Confirm(customerID, paymentMethodID string, now time.Time) error {
	if b.Status == StatusConfirmed {
		b.captureGatewayRefs(customerID, paymentMethodID, now)
		return nil
	}
	if b.Status != StatusPending {
		return ErrInvalidState
	}
	b.Status = StatusConfirmed
	b.HoldExpiresAt = time.Time{}
	b.captureGatewayRefs(customerID, paymentMethodID, now)
	b.UpdatedAt = now.UTC()
	b.Record(BookingConfirmed{
		BaseEvent:  events.BaseEvent{Name: "booking.confirmed", Aggregate: string(b.ID), Time: now.UTC()},
		PropertyID: string(b.PropertyID), CheckIn: b.Range.CheckIn, CheckOut: b.Range.CheckOut,
		Total: b.TotalAmount,
	})
	return nil
}

func (b *Booking) captureGatewayRefs(customerID, paymentMethodID string, now time.Time) {
	changed := false
	if customerID != "" && b.GatewayCustomerID != customerID {
		b.GatewayCustomerID = customerID
		changed = true
	}
	if paymentMethodID != "" && b.GatewayPaymentMethodID != paymentMethodID {
		b.GatewayPaymentMethodID = paymentMethodID
		changed = true
	}
	if changed {
		b.UpdatedAt = now.UTC()
	}
}

// HasStoredMethod reports whether off-session charges are possible.
func (b *Booking) HasStoredMethod() bool {
	return b.GatewayCustomerID != "" && b.GatewayPaymentMethodID != ""
}

// Cancel is a no-op on an already-cancelled booking; the caller reports it
// as such rather than failing.
func (b *Booking) Cancel(now time.Time) (alreadyCancelled bool, err error) {
	switch b.Status {
	case StatusCancelled:
		return true, nil
	case StatusPending, StatusConfirmed:
	default:
		return false, ErrAlreadyEnded
	}
	b.Status = StatusCancelled
	b.UpdatedAt = now.UTC()
	b.Record(BookingCancelled{
		BaseEvent:  events.BaseEvent{Name: "booking.cancelled", Aggregate: string(b.ID), Time: now.UTC()},
		PropertyID: string(b.PropertyID),
	})
	return false, nil
}

// Expire ends a booking from either expiry sweep.
func (b *Booking) Expire(now time.Time) error {
	switch b.Status {
	case StatusPending, StatusConfirmed:
	default:
		return ErrInvalidState
	}
	b.Status = StatusExpired
	b.UpdatedAt = now.UTC()
	b.Record(BookingExpired{
		BaseEvent:  events.BaseEvent{Name: "booking.expired", Aggregate: string(b.ID), Time: now.UTC()},
		PropertyID: string(b.PropertyID),
	})
	return nil
}

// ApplyDates moves the stay window and financial snapshot after an accepted
// date change. Only the change-order workflow and the gateway event
// processor call this, both under the booking row lock.
func (b *Booking) ApplyDates(r daterange.DateRange, total, deposit, balance money.Money, now time.Time) {
	b.Range = r
	b.TotalAmount = total
	b.DepositAmount = deposit
	b.BalanceDue = balance.FloorZero()
	b.UpdatedAt = now.UTC()
	b.Record(BookingDatesChanged{
		BaseEvent:  events.BaseEvent{Name: "booking.dates_changed", Aggregate: string(b.ID), Time: now.UTC()},
		PropertyID: string(b.PropertyID), CheckIn: r.CheckIn, CheckOut: r.CheckOut, Total: total,
	})
}

// SetBalanceChargeTask persists the scheduled charge handle so it can be
// revoked on the next reschedule.
func (b *Booking) SetBalanceChargeTask(taskID string, eta time.Time, now time.Time) {
	b.BalanceChargeTaskID = taskID
	b.BalanceChargeETA = eta.UTC()
	b.UpdatedAt = now.UTC()
}

// Remake spawns a fresh pending booking from a cancelled one. The cancelled
// entity itself stays terminal.
func (b *Booking) Remake(id BookingID, now time.Time) (*Booking, error) {
	if b.Status != StatusCancelled {
		return nil, ErrInvalidState
	}
	return NewBooking(CreateParams{
		ID:         id,
		PropertyID: b.PropertyID,
		GuestID:    b.GuestID,
		GuestEmail: b.GuestEmail,
		Range:      b.Range,
		PartySize:  b.PartySize,
		Total:      b.TotalAmount,
		Deposit:    b.DepositAmount,
		CreatedAt:  now,
	})
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	// ByIDForUpdate acquires the booking row lock for the remainder of the
	// unit of work.
	ByIDForUpdate(ctx context.Context, id BookingID) (*Booking, error)
	Save(ctx context.Context, b *Booking) error
	// ListOverlapping returns pending and confirmed bookings of the
	// property whose window intersects the given one. Hold/departure
	// filtering is the oracle's job.
	ListOverlapping(ctx context.Context, propertyID property.PropertyID, window daterange.DateRange) ([]*Booking, error)
	// ListConfirmedDeparted feeds the departure expiry sweep.
	ListConfirmedDeparted(ctx context.Context, now time.Time) ([]*Booking, error)
	// ListPendingHoldExpired feeds the stale-hold expiry sweep.
	ListPendingHoldExpired(ctx context.Context, now time.Time) ([]*Booking, error)
	// ListBalanceCandidates returns confirmed bookings whose arrival is at
	// or before the cutoff, for the periodic balance scan.
	ListBalanceCandidates(ctx context.Context, cutoff time.Time) ([]*Booking, error)
}
