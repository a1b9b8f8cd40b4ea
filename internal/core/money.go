// Package core provides money parsing and handling utilities.
//
// Amounts are carried as float64 currency units but are always parsed and
// rounded through whole cents, so stored values never carry more than two
// decimal places.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseAmountToCents converts a decimal string to cents with half-up rounding.
//
// Both dot (12.34) and comma (12,34) separators are accepted, as are thousands
// separated with a leading "$" ("$1,234.50" is read as 1234.50 when the
// comma is followed by exactly three digits). Negative and zero values are
// rejected.
//
// Examples:
//
//	ParseAmountToCents("12.34")     -> 1234, nil
//	ParseAmountToCents("12,34")     -> 1234, nil
//	ParseAmountToCents("$1,234.5")  -> 123450, nil
//	ParseAmountToCents("12.346")    -> 1235, nil (rounds up)
func ParseAmountToCents(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = normalizeSeparators(s)
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseAmount parses a decimal string into currency units rounded to cents.
func ParseAmount(s string) (float64, error) {
	cents, err := ParseAmountToCents(s)
	if err != nil {
		return 0, err
	}
	return float64(cents) / 100.0, nil
}

// RoundCents rounds a currency amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// normalizeSeparators turns "1,234.50" into "1234.50" and "12,34" into "12.34".
func normalizeSeparators(s string) string {
	if strings.Contains(s, ".") {
		return strings.ReplaceAll(s, ",", "")
	}
	groups := strings.Split(s, ",")
	if len(groups) > 2 {
		return strings.Join(groups, "")
	}
	if len(groups) == 2 && len(groups[1]) == 3 {
		return groups[0] + groups[1]
	}
	return strings.ReplaceAll(s, ",", ".")
}
