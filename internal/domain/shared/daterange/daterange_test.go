package daterange_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/domain/shared/daterange"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := daterange.New(date(2026, 3, 13), date(2026, 3, 10))
	require.ErrorIs(t, err, daterange.ErrInvalidRange)

	_, err = daterange.New(date(2026, 3, 10), date(2026, 3, 10))
	require.ErrorIs(t, err, daterange.ErrInvalidRange)

	_, err = daterange.New(time.Time{}, date(2026, 3, 10))
	require.ErrorIs(t, err, daterange.ErrInvalidRange)
}

func TestNewStayAppliesBoundaryClock(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	dr, err := daterange.NewStay(date(2026, 3, 10), date(2026, 3, 13), loc)
	require.NoError(t, err)

	assert.Equal(t, 15, dr.CheckIn.In(loc).Hour())
	assert.Equal(t, 12, dr.CheckOut.In(loc).Hour())
	assert.Equal(t, 3, dr.Nights())
}

func TestNightsCountsCalendarNights(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		out  time.Time
		want int
	}{
		{"one night", date(2026, 3, 10), date(2026, 3, 11), 1},
		{"five nights", date(2026, 3, 10), date(2026, 3, 15), 5},
		{"month boundary", date(2026, 2, 27), date(2026, 3, 2), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dr, err := daterange.NewStay(tc.in, tc.out, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tc.want, dr.Nights())
		})
	}
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	a, err := daterange.New(date(2026, 3, 10), date(2026, 3, 13))
	require.NoError(t, err)

	backToBack, err := daterange.New(date(2026, 3, 13), date(2026, 3, 16))
	require.NoError(t, err)
	assert.False(t, a.Overlaps(backToBack), "shared boundary day is not an overlap")
	assert.False(t, backToBack.Overlaps(a))

	inside, err := daterange.New(date(2026, 3, 11), date(2026, 3, 12))
	require.NoError(t, err)
	assert.True(t, a.Overlaps(inside))
	assert.True(t, inside.Overlaps(a))
}

func TestWidenExtendsBothEnds(t *testing.T) {
	a, err := daterange.New(date(2026, 3, 10), date(2026, 3, 13))
	require.NoError(t, err)

	widened := a.Widen(1)
	assert.Equal(t, date(2026, 3, 9), widened.CheckIn)
	assert.Equal(t, date(2026, 3, 14), widened.CheckOut)

	assert.Equal(t, a, a.Widen(0))
}
