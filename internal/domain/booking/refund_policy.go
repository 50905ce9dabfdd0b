package booking

import (
	"time"

	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// Cancellation windows.
const (
	FreeCancellationDays           = 7 // strictly more days out: full deposit refund
	LateCancellationPenaltyPercent = 50
)

type RefundWindow string

const (
	WindowFree   RefundWindow = "free"    // > 7 days before arrival
	WindowLate   RefundWindow = "late"    // 0..7 days before arrival
	WindowNoShow RefundWindow = "no_show" // arrival already passed
)

// PlannedRefund targets one payment with a capped amount.
type PlannedRefund struct {
	PaymentID payment.PaymentID
	Amount    money.Money
}

// RefundPlan is the pure outcome of cancelling a booking at a given date.
// Executing refunds and collecting the penalty are the caller's side
// effects, strictly after the status transition commits.
type RefundPlan struct {
	Window      RefundWindow
	DaysBefore  int
	Refunds     []PlannedRefund
	Penalty     money.Money
	PenaltyType payment.Type
}

// ComputeRefundPlan decides refunds and penalties from the booking total,
// its payment history and today's date. Pure function of its inputs.
func ComputeRefundPlan(b *Booking, payments []*payment.Payment, today time.Time) RefundPlan {
	daysBefore := daysUntil(b.Range.CheckIn, today)
	zero := b.TotalAmount.Zero()

	switch {
	case daysBefore < 0:
		fee, _ := b.TotalAmount.Sub(netPaid(payments, zero))
		return RefundPlan{
			Window:      WindowNoShow,
			DaysBefore:  daysBefore,
			Penalty:     fee.FloorZero(),
			PenaltyType: payment.TypeNoShow,
		}
	case daysBefore <= FreeCancellationDays:
		fee, _ := b.TotalAmount.Percent(LateCancellationPenaltyPercent).Sub(netPaid(payments, zero))
		return RefundPlan{
			Window:      WindowLate,
			DaysBefore:  daysBefore,
			Penalty:     fee.FloorZero(),
			PenaltyType: payment.TypeCancellationFee,
		}
	default:
		plan := RefundPlan{Window: WindowFree, DaysBefore: daysBefore, Penalty: zero}
		if dep := latestPaidDeposit(payments); dep != nil {
			if rem := dep.RefundableRemainder(); rem.IsPositive() {
				plan.Refunds = append(plan.Refunds, PlannedRefund{PaymentID: dep.ID, Amount: rem})
			}
		}
		return plan
	}
}

func netPaid(payments []*payment.Payment, zero money.Money) money.Money {
	total := zero
	for _, p := range payments {
		if !p.IsPaid() {
			continue
		}
		net, err := p.Amount.Sub(p.RefundedAmount)
		if err != nil {
			continue
		}
		if sum, err := total.Add(net.FloorZero()); err == nil {
			total = sum
		}
	}
	return total
}

func latestPaidDeposit(payments []*payment.Payment) *payment.Payment {
	var latest *payment.Payment
	for _, p := range payments {
		if p.Type != payment.TypeDeposit || !p.IsPaid() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest
}

func daysUntil(arrival, today time.Time) int {
	a := time.Date(arrival.Year(), arrival.Month(), arrival.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(a.Sub(t).Hours() / 24)
}
