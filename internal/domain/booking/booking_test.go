package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

var testNow = time.Date(2026, time.April, 10, 9, 0, 0, 0, time.UTC)

func makeBooking(t *testing.T) *Booking {
	t.Helper()
	dr, err := daterange.New(testNow.AddDate(0, 0, 20), testNow.AddDate(0, 0, 23))
	require.NoError(t, err)
	b, err := NewBooking(CreateParams{
		ID:         "bk-1",
		PropertyID: "prop-1",
		GuestID:    "guest-1",
		Range:      dr,
		PartySize:  2,
		Total:      money.MXN(100000),
		Deposit:    money.MXN(30000),
		CreatedAt:  testNow,
	})
	require.NoError(t, err)
	return b
}

func TestNewBookingStartsPendingWithHold(t *testing.T) {
	b := makeBooking(t)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, testNow.Add(HoldDuration), b.HoldExpiresAt)
	assert.Equal(t, int64(70000), b.BalanceDue.Cents)
	assert.Len(t, b.PendingEvents(), 1)
}

func TestNewBookingRejectsBadParty(t *testing.T) {
	dr, _ := daterange.New(testNow.AddDate(0, 0, 1), testNow.AddDate(0, 0, 3))
	_, err := NewBooking(CreateParams{ID: "x", PropertyID: "p", GuestID: "g", Range: dr, PartySize: 0, CreatedAt: testNow})
	assert.ErrorIs(t, err, ErrInvalidParty)
}

func TestConfirmOnlyFromPending(t *testing.T) {
	b := makeBooking(t)
	require.NoError(t, b.Confirm("cus_1", "pm_1", testNow))
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.True(t, b.HoldExpiresAt.IsZero())
	assert.Equal(t, "cus_1", b.GatewayCustomerID)

	// Confirming again only refreshes gateway refs.
	require.NoError(t, b.Confirm("cus_2", "pm_2", testNow))
	assert.Equal(t, "cus_2", b.GatewayCustomerID)

	_, err := b.Cancel(testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Confirm("cus_3", "pm_3", testNow), ErrInvalidState)
}

func TestCancelIsNoOpWhenAlreadyCancelled(t *testing.T) {
	b := makeBooking(t)
	already, err := b.Cancel(testNow)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = b.Cancel(testNow)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestCancelFromExpiredFails(t *testing.T) {
	b := makeBooking(t)
	require.NoError(t, b.Expire(testNow))
	_, err := b.Cancel(testNow)
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestHoldExpiredDoesNotBlockWindow(t *testing.T) {
	b := makeBooking(t)
	later := testNow.Add(HoldDuration + time.Minute)
	assert.True(t, b.HoldExpired(later))
	assert.False(t, b.BlocksWindow(b.Range, later))
	assert.True(t, b.BlocksWindow(b.Range, testNow))
}

func TestDepartedConfirmedDoesNotBlock(t *testing.T) {
	b := makeBooking(t)
	require.NoError(t, b.Confirm("cus", "pm", testNow))
	after := b.Range.CheckOut.Add(time.Hour)
	assert.True(t, b.Departed(after))
	assert.False(t, b.BlocksWindow(b.Range, after))
}

func TestRemakeRequiresCancelled(t *testing.T) {
	b := makeBooking(t)
	_, err := b.Remake("bk-2", testNow)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = b.Cancel(testNow)
	require.NoError(t, err)
	fresh, err := b.Remake("bk-2", testNow)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)
	assert.Equal(t, b.Range, fresh.Range)
}

func TestExpireFromCancelledFails(t *testing.T) {
	b := makeBooking(t)
	_, err := b.Cancel(testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Expire(testNow), ErrInvalidState)
}
