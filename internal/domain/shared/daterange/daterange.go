package daterange

import (
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("daterange: checkout must be after checkin")

// Stay boundary convention: guests arrive at 15:00 and leave at 12:00 local.
const (
	CheckInHour  = 15
	CheckOutHour = 12
)

// DateRange represents a half-open interval [checkIn, checkOut).
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

func New(checkIn, checkOut time.Time) (DateRange, error) {
	dr := DateRange{CheckIn: checkIn.UTC(), CheckOut: checkOut.UTC()}
	if err := dr.Validate(); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

// NewStay builds a range from calendar dates applying the fixed
// check-in/check-out clock times in the given location.
func NewStay(checkInDate, checkOutDate time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	in := atHour(checkInDate, CheckInHour, loc)
	out := atHour(checkOutDate, CheckOutHour, loc)
	return New(in, out)
}

func (dr DateRange) Validate() error {
	if dr.CheckIn.IsZero() || dr.CheckOut.IsZero() {
		return ErrInvalidRange
	}
	if !dr.CheckOut.After(dr.CheckIn) {
		return ErrInvalidRange
	}
	return nil
}

// Nights counts whole calendar nights between the boundary dates. A stay
// from the 1st at 15:00 to the 3rd at 12:00 is two nights.
func (dr DateRange) Nights() int {
	in := truncateDate(dr.CheckIn)
	out := truncateDate(dr.CheckOut)
	return int(out.Sub(in).Hours() / 24)
}

func (dr DateRange) Overlaps(other DateRange) bool {
	return dr.CheckIn.Before(other.CheckOut) && other.CheckIn.Before(dr.CheckOut)
}

// Widen extends both ends by the given number of buffer nights.
func (dr DateRange) Widen(bufferNights int) DateRange {
	if bufferNights <= 0 {
		return dr
	}
	d := time.Duration(bufferNights) * 24 * time.Hour
	return DateRange{CheckIn: dr.CheckIn.Add(-d), CheckOut: dr.CheckOut.Add(d)}
}

func atHour(t time.Time, hour int, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
