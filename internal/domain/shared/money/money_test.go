package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesCurrency(t *testing.T) {
	_, err := New(100, "MX")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	m, err := New(100, "mxn")
	require.NoError(t, err)
	assert.Equal(t, "MXN", m.Currency)
}

func TestAddSubCurrencyMismatch(t *testing.T) {
	a := MXN(100)
	b := Must(100, "USD")
	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	_, err = a.Sub(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMulRateRoundsHalfUp(t *testing.T) {
	cases := []struct {
		name     string
		cents    int64
		num, den int64
		want     int64
	}{
		{"exact", 1000, 30, 100, 300},
		{"half rounds up", 125, 10, 100, 13},  // 12.5 -> 13
		{"below half down", 124, 10, 100, 12}, // 12.4 -> 12
		{"tax sixteen pct", 103, 16, 100, 16}, // 16.48 -> 16
		{"negative half away", -125, 10, 100, -13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MXN(tc.cents).MulRate(tc.num, tc.den)
			assert.Equal(t, tc.want, got.Cents)
		})
	}
}

func TestFloorZero(t *testing.T) {
	assert.Equal(t, int64(0), MXN(-500).FloorZero().Cents)
	assert.Equal(t, int64(500), MXN(500).FloorZero().Cents)
}

func TestString(t *testing.T) {
	assert.Equal(t, "1234.50 MXN", MXN(123450).String())
	assert.Equal(t, "-0.05 MXN", MXN(-5).String())
}
