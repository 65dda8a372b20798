package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount of currency in minor units (e.g. paise or cents).
// Every price comparison, subtraction and divisibility check in the
// bidding engine happens on this integer representation. Decimal values
// exist only at the API boundary and for display formatting.
type Money int64

// FromMinor wraps a raw minor-unit amount.
func FromMinor(units int64) Money { return Money(units) }

// FromDecimal converts a decimal amount of major units into Money,
// rounding to the nearest minor unit.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}

// Parse reads a decimal string such as "4900" or "4900.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// FromFloat converts a float received from a JSON payload. The value is
// routed through decimal so that 49.5 does not become 4949 cents.
func FromFloat(f float64) Money {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Minor returns the raw minor-unit amount.
func (m Money) Minor() int64 { return int64(m) }

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }

func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsZero() bool     { return m == 0 }

// IsWhole reports whether the amount is a whole number of major units.
func (m Money) IsWhole() bool { return m%100 == 0 }

func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }

// MulInt scales the amount by an integer factor.
func (m Money) MulInt(n int64) Money { return Money(int64(m) * n) }

// Mod returns the remainder of m divided by step, both in minor units.
func (m Money) Mod(step Money) Money {
	if step == 0 {
		return 0
	}
	return m % step
}

// RoundWhole rounds to the nearest whole major unit (half away from zero).
func (m Money) RoundWhole() Money {
	return FromDecimal(m.Decimal().Round(0))
}

// Format renders the amount with zero decimal places when whole is true,
// otherwise with two.
func (m Money) Format(whole bool) string {
	if whole {
		return m.Decimal().Round(0).StringFixed(0)
	}
	return m.Decimal().StringFixed(2)
}

func (m Money) String() string { return m.Decimal().StringFixed(2) }

// MarshalJSON encodes the amount as a plain decimal number of major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().String()), nil
}

// UnmarshalJSON accepts a decimal number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*m = 0
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
