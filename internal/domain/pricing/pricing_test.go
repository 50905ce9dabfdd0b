package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/domain/shared/money"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 15, 0, 0, 0, time.UTC)
}

func TestComputeQuoteRejectsBadInput(t *testing.T) {
	_, err := ComputeQuote(money.MXN(100000), money.MXN(35000), day(5), day(5))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ComputeQuote(money.MXN(100000), money.MXN(35000), day(7), day(5))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ComputeQuote(money.MXN(0), money.MXN(35000), day(1), day(3))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestDiscountLadder(t *testing.T) {
	cases := []struct {
		nights      int
		wantPercent int64
	}{
		{1, 0},
		{6, 0},
		{7, 10},
		{29, 10},
		{30, 20},
		{45, 20},
	}
	for _, tc := range cases {
		q, err := ComputeQuote(money.MXN(100000), money.MXN(0), day(1), day(1+tc.nights))
		require.NoError(t, err)
		assert.Equal(t, tc.nights, q.Nights)
		assert.Equal(t, tc.wantPercent, q.DiscountPercent, "nights=%d", tc.nights)
	}
}

func TestQuoteStages(t *testing.T) {
	// 3 nights at 1000.00, cleaning fee 350.00, no discount:
	// subtotal 3000.00, taxable 3350.00, tax 536.00, total 3886.00
	q, err := ComputeQuote(money.MXN(100000), money.MXN(35000), day(1), day(4))
	require.NoError(t, err)
	assert.Equal(t, int64(300000), q.SubtotalBase.Cents)
	assert.Equal(t, int64(0), q.DiscountAmount.Cents)
	assert.Equal(t, int64(335000), q.TaxableBase.Cents)
	assert.Equal(t, int64(53600), q.TaxAmount.Cents)
	assert.Equal(t, int64(388600), q.Total.Cents)
}

func TestQuoteTotalCoversSubtotalBase(t *testing.T) {
	for nights := 1; nights <= 60; nights++ {
		q, err := ComputeQuote(money.MXN(123450), money.MXN(35000), day(1), day(1+nights))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.Total.Cents, q.SubtotalBase.Cents-q.DiscountAmount.Cents)
	}
}

func TestQuoteIsDeterministic(t *testing.T) {
	a, err := ComputeQuote(money.MXN(98765), money.MXN(35000), day(2), day(19))
	require.NoError(t, err)
	b, err := ComputeQuote(money.MXN(98765), money.MXN(35000), day(2), day(19))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
