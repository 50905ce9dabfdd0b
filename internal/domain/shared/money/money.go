package money

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCurrency  = errors.New("money: invalid currency code")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// DefaultCurrency is the operating currency of the booking core.
const DefaultCurrency = "MXN"

// Money keeps amounts as integer centavos (2-decimal fixed point) to avoid
// floating point drift across repeated quote recomputations.
type Money struct {
	Cents    int64
	Currency string
}

// New constructs a Money value validating minimal invariants.
func New(cents int64, currency string) (Money, error) {
	if len(currency) != 3 {
		return Money{}, ErrInvalidCurrency
	}
	return Money{Cents: cents, Currency: strings.ToUpper(currency)}, nil
}

// MXN builds an amount in the default currency.
func MXN(cents int64) Money {
	return Money{Cents: cents, Currency: DefaultCurrency}
}

// Must creates Money and panics if validation fails; useful in tests and fixtures.
func Must(cents int64, currency string) Money {
	m, err := New(cents, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns the zero amount in the receiver's currency.
func (m Money) Zero() Money {
	return Money{Cents: 0, Currency: m.Currency}
}

// Add adds two money values ensuring currencies match.
func (m Money) Add(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents + other.Cents, Currency: m.Currency}, nil
}

// Sub subtracts other from the receiver.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.ensureSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents - other.Cents, Currency: m.Currency}, nil
}

// Neg returns the negated amount preserving currency.
func (m Money) Neg() Money {
	return Money{Cents: -m.Cents, Currency: m.Currency}
}

// Multiply multiplies the amount by an integer factor.
func (m Money) Multiply(times int64) Money {
	return Money{Cents: m.Cents * times, Currency: m.Currency}
}

// MulRate multiplies by num/den rounding half-up (half away from zero for
// negative amounts). Every fractional-rate stage of a quote goes through
// here so stored totals reproduce bit-for-bit on recomputation.
func (m Money) MulRate(num, den int64) Money {
	if den == 0 {
		panic("money: zero rate denominator")
	}
	product := m.Cents * num
	var rounded int64
	if (product >= 0) == (den > 0) {
		rounded = (product + den/2) / den
	} else {
		rounded = (product - den/2) / den
	}
	return Money{Cents: rounded, Currency: m.Currency}
}

// Percent applies an integer percentage with half-up rounding.
func (m Money) Percent(p int64) Money {
	return m.MulRate(p, 100)
}

// FloorZero clamps negative amounts to zero.
func (m Money) FloorZero() Money {
	if m.Cents < 0 {
		return m.Zero()
	}
	return m
}

// IsZero returns true if the amount equals zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// IsPositive returns true for amounts strictly above zero.
func (m Money) IsPositive() bool {
	return m.Cents > 0
}

// Cmp returns -1, 0 or 1 comparing amounts; currencies must already match.
func (m Money) Cmp(other Money) int {
	switch {
	case m.Cents < other.Cents:
		return -1
	case m.Cents > other.Cents:
		return 1
	default:
		return 0
	}
}

// String renders the amount with two decimals, e.g. "1234.50 MXN".
func (m Money) String() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, m.Currency)
}

func (m Money) ensureSameCurrency(other Money) error {
	if m.Currency == "" || other.Currency == "" {
		return ErrInvalidCurrency
	}
	if m.Currency != other.Currency {
		return ErrCurrencyMismatch
	}
	return nil
}
