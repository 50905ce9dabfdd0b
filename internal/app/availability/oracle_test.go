package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/app/policies"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type stubBookingRepo struct {
	booking.Repository
	overlapping []*booking.Booking
	err         error
}

func (s *stubBookingRepo) ListOverlapping(ctx context.Context, propertyID property.PropertyID, window daterange.DateRange) ([]*booking.Booking, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*booking.Booking
	for _, b := range s.overlapping {
		if b.PropertyID == propertyID && b.Range.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

type stubCalendar struct {
	blocked []policies.BlockedRange
	err     error
}

func (s *stubCalendar) BlockedRanges(ctx context.Context, feedURL string) ([]policies.BlockedRange, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.blocked, nil
}

func testProperty(calendarURL string) *property.Property {
	p, err := property.New(property.CreateParams{
		ID:          "prop-1",
		Name:        "Casa Azul",
		Capacity:    4,
		NightlyRate: money.MXN(100_000),
		CleaningFee: money.MXN(35_000),
		CalendarURL: calendarURL,
	})
	if err != nil {
		panic(err)
	}
	return p
}

func testBooking(t *testing.T, id string, checkIn, checkOut time.Time, status booking.Status) *booking.Booking {
	t.Helper()
	stay, err := daterange.NewStay(checkIn, checkOut, time.UTC)
	require.NoError(t, err)
	b, err := booking.NewBooking(booking.CreateParams{
		ID:         booking.BookingID(id),
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		Range:      stay,
		PartySize:  2,
		Total:      money.MXN(388_600),
		Deposit:    money.MXN(116_580),
		CreatedAt:  testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	switch status {
	case booking.StatusConfirmed:
		require.NoError(t, b.Confirm("cus_1", "pm_1", testNow.Add(-time.Hour)))
	case booking.StatusPending:
	default:
		t.Fatalf("unsupported status %s", status)
	}
	return b
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestOracle(repo booking.Repository, cal policies.CalendarSource) *Oracle {
	return NewOracle(repo, cal, nil).WithClock(func() time.Time { return testNow })
}

func TestIsAvailableValidationChain(t *testing.T) {
	oracle := newTestOracle(&stubBookingRepo{}, &stubCalendar{})
	prop := testProperty("")

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{
			name: "valid window",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 13), PartySize: 2},
			want: true,
		},
		{
			name: "nil property",
			q:    Query{CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 13), PartySize: 2},
			want: false,
		},
		{
			name: "zero dates",
			q:    Query{Property: prop, PartySize: 2},
			want: false,
		},
		{
			name: "checkout before checkin",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 13), CheckOut: date(2026, 3, 10), PartySize: 2},
			want: false,
		},
		{
			name: "checkin in the past",
			q:    Query{Property: prop, CheckIn: date(2026, 2, 20), CheckOut: date(2026, 2, 25), PartySize: 2},
			want: false,
		},
		{
			name: "checkin today is allowed",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 1), CheckOut: date(2026, 3, 4), PartySize: 2},
			want: true,
		},
		{
			name: "single night too short",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 11), PartySize: 2},
			want: false,
		},
		{
			name: "over a year too long",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2027, 3, 12), PartySize: 2},
			want: false,
		},
		{
			name: "party exceeds capacity",
			q:    Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 13), PartySize: 5},
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, oracle.IsAvailable(context.Background(), tc.q))
		})
	}
}

func TestIsAvailableLocalOverlap(t *testing.T) {
	confirmed := testBooking(t, "bk-1", date(2026, 3, 10), date(2026, 3, 15), booking.StatusConfirmed)
	repo := &stubBookingRepo{overlapping: []*booking.Booking{confirmed}}
	oracle := newTestOracle(repo, &stubCalendar{})
	prop := testProperty("")

	q := Query{Property: prop, CheckIn: date(2026, 3, 12), CheckOut: date(2026, 3, 17), PartySize: 2}
	assert.False(t, oracle.IsAvailable(context.Background(), q))

	// Back-to-back stays share a boundary day without conflicting.
	q = Query{Property: prop, CheckIn: date(2026, 3, 15), CheckOut: date(2026, 3, 18), PartySize: 2}
	assert.True(t, oracle.IsAvailable(context.Background(), q))

	// Excluding the conflicting booking itself frees the window.
	q = Query{Property: prop, CheckIn: date(2026, 3, 12), CheckOut: date(2026, 3, 17), PartySize: 2, ExcludeBookingID: "bk-1"}
	assert.True(t, oracle.IsAvailable(context.Background(), q))
}

func TestIsAvailableExpiredHoldDoesNotBlock(t *testing.T) {
	held := testBooking(t, "bk-2", date(2026, 3, 10), date(2026, 3, 15), booking.StatusPending)
	require.True(t, held.HoldExpired(testNow), "hold set an hour ago must have lapsed")

	repo := &stubBookingRepo{overlapping: []*booking.Booking{held}}
	oracle := newTestOracle(repo, &stubCalendar{})

	q := Query{Property: testProperty(""), CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 15), PartySize: 2}
	assert.True(t, oracle.IsAvailable(context.Background(), q))
}

func TestIsAvailableLiveHoldBlocks(t *testing.T) {
	held := testBooking(t, "bk-3", date(2026, 3, 10), date(2026, 3, 15), booking.StatusPending)
	require.NoError(t, held.RefreshHold(testNow))

	repo := &stubBookingRepo{overlapping: []*booking.Booking{held}}
	oracle := newTestOracle(repo, &stubCalendar{})

	q := Query{Property: testProperty(""), CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 15), PartySize: 2}
	assert.False(t, oracle.IsAvailable(context.Background(), q))
}

func TestIsAvailableBufferNights(t *testing.T) {
	confirmed := testBooking(t, "bk-4", date(2026, 3, 10), date(2026, 3, 15), booking.StatusConfirmed)
	repo := &stubBookingRepo{overlapping: []*booking.Booking{confirmed}}
	oracle := newTestOracle(repo, &stubCalendar{})
	prop := testProperty("")

	// Adjacent without buffer, conflicting once widened by one night.
	q := Query{Property: prop, CheckIn: date(2026, 3, 15), CheckOut: date(2026, 3, 18), PartySize: 2}
	assert.True(t, oracle.IsAvailable(context.Background(), q))
	q.BufferNights = 1
	assert.False(t, oracle.IsAvailable(context.Background(), q))
}

func TestIsAvailableExternalCalendar(t *testing.T) {
	prop := testProperty("https://feeds.example.com/casa-azul.ics")

	t.Run("blocked range conflicts", func(t *testing.T) {
		cal := &stubCalendar{blocked: []policies.BlockedRange{{Start: date(2026, 3, 11), End: date(2026, 3, 13)}}}
		oracle := newTestOracle(&stubBookingRepo{}, cal)
		q := Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 14), PartySize: 2}
		assert.False(t, oracle.IsAvailable(context.Background(), q))
	})

	t.Run("clear feed allows", func(t *testing.T) {
		cal := &stubCalendar{blocked: []policies.BlockedRange{{Start: date(2026, 4, 1), End: date(2026, 4, 5)}}}
		oracle := newTestOracle(&stubBookingRepo{}, cal)
		q := Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 14), PartySize: 2}
		assert.True(t, oracle.IsAvailable(context.Background(), q))
	})

	t.Run("feed error fails closed", func(t *testing.T) {
		cal := &stubCalendar{err: errors.New("timeout")}
		oracle := newTestOracle(&stubBookingRepo{}, cal)
		q := Query{Property: prop, CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 14), PartySize: 2}
		assert.False(t, oracle.IsAvailable(context.Background(), q))
	})
}

func TestIsAvailableRepoErrorFailsClosed(t *testing.T) {
	repo := &stubBookingRepo{err: errors.New("connection reset")}
	oracle := newTestOracle(repo, &stubCalendar{})
	q := Query{Property: testProperty(""), CheckIn: date(2026, 3, 10), CheckOut: date(2026, 3, 14), PartySize: 2}
	assert.False(t, oracle.IsAvailable(context.Background(), q))
}
