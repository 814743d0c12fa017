// Package money implements the fixed-point currency representation every
// source adapter normalizes into. Amounts are stored as int64 minor units
// (2 decimal places), so arithmetic downstream is plain integer math.
package money

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Amount is a currency amount in minor units (cents).
type Amount int64

// decimalPattern matches decimal strings accepted from source payloads.
var decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// ParseDecimal converts a decimal string ("10.99", "-0.005") into an Amount,
// rounding half-even at 2 decimal places. This is the single place rounding
// policy is enforced; adapters must not round before calling it.
func ParseDecimal(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty decimal string")
	}
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("money: invalid decimal %q", s)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("money: could not parse %q as rational", s)
	}

	return roundHalfEven(r), nil
}

// FromMinorUnits wraps an integer minor-unit value (POS convention).
func FromMinorUnits(n int64) Amount {
	return Amount(n)
}

// MustParse is a test/fixture helper; it panics on invalid input.
func MustParse(s string) Amount {
	a, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return a
}

// roundHalfEven scales r to minor units and applies banker's rounding.
func roundHalfEven(r *big.Rat) Amount {
	num := new(big.Int).Mul(r.Num(), big.NewInt(100))
	den := r.Denom()

	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() == 0 {
		return Amount(q.Int64())
	}

	// Compare 2*|rem| against the (always positive) denominator.
	twice := new(big.Int).Abs(rem)
	twice.Lsh(twice, 1)

	round := false
	switch twice.Cmp(den) {
	case 1:
		round = true
	case 0:
		round = q.Bit(0) == 1 // exactly halfway: round to even
	}

	if round {
		if num.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}

	return Amount(q.Int64())
}

// MinorUnits returns the raw minor-unit value.
func (a Amount) MinorUnits() int64 {
	return int64(a)
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// String renders the canonical 2-decimal form, e.g. "123.45" or "-0.05".
func (a Amount) String() string {
	n := int64(a)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}

// MarshalJSON encodes the amount as its canonical decimal string so JSON
// consumers never see float artifacts.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted decimal strings and bare JSON numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
