package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

func policyBooking(t *testing.T, arrival time.Time) *Booking {
	t.Helper()
	dr, err := daterange.New(arrival, arrival.AddDate(0, 0, 4))
	require.NoError(t, err)
	b, err := NewBooking(CreateParams{
		ID: "bk-pol", PropertyID: "prop-1", GuestID: "g",
		Range: dr, PartySize: 2,
		Total: money.MXN(100000), Deposit: money.MXN(30000),
		CreatedAt: arrival.AddDate(0, 0, -30),
	})
	require.NoError(t, err)
	return b
}

func paidDeposit(id string, cents int64, createdAt time.Time) *payment.Payment {
	p := payment.New(payment.CreateParams{
		ID: payment.PaymentID(id), BookingID: "bk-pol",
		Type: payment.TypeDeposit, Amount: money.MXN(cents), CreatedAt: createdAt,
	})
	p.MarkPaid("pi_"+id, createdAt)
	return p
}

func TestRefundPlanFreeWindow(t *testing.T) {
	today := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	b := policyBooking(t, today.AddDate(0, 0, 10))
	dep := paidDeposit("p1", 30000, today.AddDate(0, 0, -1))

	plan := ComputeRefundPlan(b, []*payment.Payment{dep}, today)
	assert.Equal(t, WindowFree, plan.Window)
	assert.Equal(t, 10, plan.DaysBefore)
	assert.True(t, plan.Penalty.IsZero())
	require.Len(t, plan.Refunds, 1)
	assert.Equal(t, dep.ID, plan.Refunds[0].PaymentID)
	assert.Equal(t, int64(30000), plan.Refunds[0].Amount.Cents)
}

func TestRefundPlanLateWindow(t *testing.T) {
	today := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	b := policyBooking(t, today.AddDate(0, 0, 3))
	dep := paidDeposit("p1", 30000, today.AddDate(0, 0, -5))

	plan := ComputeRefundPlan(b, []*payment.Payment{dep}, today)
	assert.Equal(t, WindowLate, plan.Window)
	assert.Equal(t, payment.TypeCancellationFee, plan.PenaltyType)
	// 50% of 1000.00 minus 300.00 already paid.
	assert.Equal(t, int64(20000), plan.Penalty.Cents)
	assert.Empty(t, plan.Refunds)
}

func TestRefundPlanNoShow(t *testing.T) {
	today := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	b := policyBooking(t, today.AddDate(0, 0, -2))
	dep := paidDeposit("p1", 30000, today.AddDate(0, 0, -20))

	plan := ComputeRefundPlan(b, []*payment.Payment{dep}, today)
	assert.Equal(t, WindowNoShow, plan.Window)
	assert.Equal(t, payment.TypeNoShow, plan.PenaltyType)
	assert.Equal(t, int64(70000), plan.Penalty.Cents)
	assert.Empty(t, plan.Refunds)
}

func TestRefundPlanPenaltyFloorsAtZero(t *testing.T) {
	today := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	b := policyBooking(t, today.AddDate(0, 0, 3))
	dep := paidDeposit("p1", 60000, today.AddDate(0, 0, -5))

	plan := ComputeRefundPlan(b, []*payment.Payment{dep}, today)
	assert.True(t, plan.Penalty.IsZero())
}

func TestRefundPlanUsesMostRecentPaidDeposit(t *testing.T) {
	today := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	b := policyBooking(t, today.AddDate(0, 0, 15))
	older := paidDeposit("p1", 30000, today.AddDate(0, 0, -9))
	newer := paidDeposit("p2", 6000, today.AddDate(0, 0, -2)) // top-up
	require.NoError(t, newer.ApplyRefund(money.MXN(1000), payment.RefundPaid, today))

	plan := ComputeRefundPlan(b, []*payment.Payment{older, newer}, today)
	require.Len(t, plan.Refunds, 1)
	assert.Equal(t, newer.ID, plan.Refunds[0].PaymentID)
	assert.Equal(t, int64(5000), plan.Refunds[0].Amount.Cents)
}
