package availability

import (
	"context"
	"log/slog"
	"time"

	"estancias/internal/app/policies"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
)

// Stay length bounds accepted for any booking or date change.
const (
	MinNights = 2
	MaxNights = 365
)

// Query describes one availability question. CheckIn and CheckOut carry
// calendar dates; the fixed 15:00/12:00 stay clock is applied internally.
type Query struct {
	Property  *property.Property
	CheckIn   time.Time
	CheckOut  time.Time
	PartySize int
	// ExcludeBookingID skips one booking in the overlap scan, used when a
	// booking's own dates are being changed.
	ExcludeBookingID booking.BookingID
	// BufferNights widens the candidate window on both ends before the
	// conflict checks.
	BufferNights int
}

// Oracle answers bookable/not-bookable by combining local reservation
// overlap with the property's external blocked-range feed. It never returns
// an error: every failure mode, including an unreachable feed, reads as not
// available.
type Oracle struct {
	bookings booking.Repository
	calendar policies.CalendarSource
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location
}

func NewOracle(bookings booking.Repository, calendar policies.CalendarSource, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		bookings: bookings,
		calendar: calendar,
		logger:   logger,
		now:      time.Now,
		loc:      time.UTC,
	}
}

// WithClock overrides the time source for tests.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// IsAvailable runs the validation chain in order, short-circuiting to false
// on the first failure. The answer is a best-effort read; mutating callers
// re-validate under the property row lock.
func (o *Oracle) IsAvailable(ctx context.Context, q Query) bool {
	if q.Property == nil || q.CheckIn.IsZero() || q.CheckOut.IsZero() {
		return false
	}
	stay, err := daterange.NewStay(q.CheckIn, q.CheckOut, o.loc)
	if err != nil {
		return false
	}
	now := o.now().UTC()
	if dateOf(stay.CheckIn).Before(dateOf(now)) {
		return false
	}
	if nights := stay.Nights(); nights < MinNights || nights > MaxNights {
		return false
	}
	if !q.Property.Fits(q.PartySize) {
		return false
	}

	window := stay.Widen(q.BufferNights)

	if q.Property.CalendarURL != "" {
		if !o.clearOfFeed(ctx, q.Property, window) {
			return false
		}
	}
	return o.clearOfLocal(ctx, q, window, now)
}

func (o *Oracle) clearOfFeed(ctx context.Context, p *property.Property, window daterange.DateRange) bool {
	blocked, err := o.calendar.BlockedRanges(ctx, p.CalendarURL)
	if err != nil {
		// Fail closed: an unreachable feed must never grant availability.
		o.logger.Warn("calendar feed unavailable, treating window as blocked",
			slog.String("property_id", string(p.ID)), slog.Any("error", err))
		return false
	}
	for _, br := range blocked {
		r := daterange.DateRange{CheckIn: br.Start, CheckOut: br.End}
		if r.Overlaps(window) {
			return false
		}
	}
	return true
}

func (o *Oracle) clearOfLocal(ctx context.Context, q Query, window daterange.DateRange, now time.Time) bool {
	existing, err := o.bookings.ListOverlapping(ctx, q.Property.ID, window)
	if err != nil {
		o.logger.Warn("overlap scan failed, treating window as blocked",
			slog.String("property_id", string(q.Property.ID)), slog.Any("error", err))
		return false
	}
	for _, b := range existing {
		if q.ExcludeBookingID != "" && b.ID == q.ExcludeBookingID {
			continue
		}
		if b.BlocksWindow(window, now) {
			return false
		}
	}
	return true
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
