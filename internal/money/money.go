// Package money provides exact fixed-point currency arithmetic.
//
// Amounts are stored as int64 in the smallest unit (2 decimal places,
// 1 unit of currency = 100 minor units). All arithmetic is integer
// arithmetic; there is no floating point anywhere in the money path.
package money

import (
	"errors"
	"strings"
)

// Decimals is the number of decimal places carried by an Amount.
const Decimals = 2

const minorPerMajor = 100

// PlatformFeePercent is the display-only platform fee charged on a purchase.
// The fee is never stored on a transaction; the stored amount is always the
// raw item price.
const PlatformFeePercent = 5

var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a currency amount in minor units.
type Amount int64

// Parse converts a decimal string (e.g. "1000", "249.99") to minor units.
//
// Rules:
//   - Negative amounts are rejected
//   - More than 2 decimal places are rejected
//   - Empty strings are rejected (use zero explicitly where legal)
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if len(frac) > Decimals {
		return 0, ErrInvalidAmount
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	var total int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, ErrInvalidAmount
		}
		d := int64(c - '0')
		if total > (1<<62)/10 {
			return 0, ErrInvalidAmount
		}
		total = total*10 + d
	}
	return Amount(total), nil
}

// MustParse is Parse for test fixtures and constants; panics on bad input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic("money: " + err.Error() + ": " + s)
	}
	return a
}

// String formats the amount as a decimal string with exactly 2 decimal
// places (e.g. "1000.00").
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	major := v / minorPerMajor
	minor := v % minorPerMajor
	s := itoa(major) + "." + pad2(minor)
	if neg {
		s = "-" + s
	}
	return s
}

// MarshalJSON encodes the amount as a decimal string to keep wire payloads
// free of floating point.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool { return a > 0 }

// PlatformFee returns the display-only platform fee for a price.
// Integer arithmetic, truncated toward zero.
func PlatformFee(price Amount) Amount {
	return price * PlatformFeePercent / 100
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func pad2(v int64) string {
	return string([]byte{byte('0' + v/10), byte('0' + v%10)})
}
