// Package core provides amount parsing and formatting utilities.
//
// Amounts are whole Iraqi dinars stored as int64; there is no fractional unit.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Currency is the suffix used when amounts are shown to operators.
const Currency = "IQD"

// ParseAmount converts an operator supplied string to a whole amount.
//
// Thousands separators (comma, dot, space, underscore) are accepted and
// ignored. Signs, fractions and zero are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("10000")  -> 10000, nil
//	ParseAmount("10,000") -> 10000, nil
//	ParseAmount("-5")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ',' || r == '.' || r == ' ' || r == '_':
			continue
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		default:
			return 0, ErrInvalidAmount
		}
	}
	if b.Len() == 0 {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount renders an amount with comma thousands separators, e.g. 25,000.
func FormatAmount(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatMoney is FormatAmount followed by the currency suffix.
func FormatMoney(v int64) string {
	return FormatAmount(v) + " " + Currency
}
