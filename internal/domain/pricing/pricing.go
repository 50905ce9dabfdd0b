package pricing

import (
	"errors"
	"time"

	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

var ErrInvalidRange = errors.New("pricing: need a positive number of nights and a nightly rate")

// Fixed tax rate applied to the taxable base (IVA).
const TaxRatePercent = 16

// Long-stay discount ladder by night count.
const (
	MonthlyDiscountNights  = 30
	MonthlyDiscountPercent = 20
	WeeklyDiscountNights   = 7
	WeeklyDiscountPercent  = 10
)

// Quote is the itemized result of pricing a stay. Every monetary stage is
// rounded half-up to centavos before feeding the next one, so recomputing a
// quote for the same inputs reproduces the stored total exactly.
type Quote struct {
	Nights          int
	SubtotalBase    money.Money
	DiscountPercent int64
	DiscountAmount  money.Money
	Subtotal        money.Money
	CleaningFee     money.Money
	TaxableBase     money.Money
	TaxAmount       money.Money
	Total           money.Money
}

// ComputeQuote prices a stay. Pure: same inputs, same output, no clock, no
// side effects.
func ComputeQuote(nightlyRate, cleaningFee money.Money, checkIn, checkOut time.Time) (Quote, error) {
	dr := daterange.DateRange{CheckIn: checkIn, CheckOut: checkOut}
	nights := dr.Nights()
	if nights <= 0 || !nightlyRate.IsPositive() {
		return Quote{}, ErrInvalidRange
	}

	subtotalBase := nightlyRate.Multiply(int64(nights))
	discountPercent := discountFor(nights)
	discountAmount := subtotalBase.Percent(discountPercent)
	subtotal, err := subtotalBase.Sub(discountAmount)
	if err != nil {
		return Quote{}, err
	}
	if cleaningFee.Currency == "" {
		cleaningFee = subtotal.Zero()
	}
	taxableBase, err := subtotal.Add(cleaningFee)
	if err != nil {
		return Quote{}, err
	}
	taxAmount := taxableBase.Percent(TaxRatePercent)
	total, err := taxableBase.Add(taxAmount)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Nights:          nights,
		SubtotalBase:    subtotalBase,
		DiscountPercent: discountPercent,
		DiscountAmount:  discountAmount,
		Subtotal:        subtotal,
		CleaningFee:     cleaningFee,
		TaxableBase:     taxableBase,
		TaxAmount:       taxAmount,
		Total:           total,
	}, nil
}

func discountFor(nights int) int64 {
	switch {
	case nights >= MonthlyDiscountNights:
		return MonthlyDiscountPercent
	case nights >= WeeklyDiscountNights:
		return WeeklyDiscountPercent
	default:
		return 0
	}
}
