// Package phone normalizes and validates Indian mobile numbers.
package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// CountryCode is the only dialing prefix the login flow accepts.
const CountryCode = "+91"

const (
	nationalDigits = 10
	codeDigits     = 6
)

// ErrInvalidNumber is returned by Parse when the input is not a valid Indian mobile number.
var ErrInvalidNumber = errors.New("phone: invalid indian mobile number")

var indianMobileRe = regexp.MustCompile(`^\+91[6-9]\d{9}$`)

// Number is a canonical Indian mobile number: "+91" followed by 10 digits, the first in 6-9.
// Values are only produced by Parse, so a non-empty Number always satisfies IsValid.
type Number string

// Normalize strips every non-digit from raw, keeps at most the first 10 digits and prefixes CountryCode.
// If no digits remain the empty string is returned without a prefix.
func Normalize(raw string) string {
	digits := digitsOnly(raw, nationalDigits)
	if digits == "" {
		return ""
	}
	return CountryCode + digits
}

// IsValid reports whether candidate is exactly "+91" followed by a digit in 6-9 and nine more digits.
func IsValid(candidate string) bool {
	return indianMobileRe.MatchString(candidate)
}

// Parse normalizes raw and returns it as a Number, or ErrInvalidNumber.
func Parse(raw string) (Number, error) {
	n := Normalize(raw)
	if !IsValid(n) {
		return "", ErrInvalidNumber
	}
	return Number(n), nil
}

// String returns the canonical form.
func (n Number) String() string { return string(n) }

// National returns the 10 subscriber digits without the country code.
func (n Number) National() string {
	return strings.TrimPrefix(string(n), CountryCode)
}

// Masked hides all but the last four digits, e.g. "+91******3210". Used in logs and telemetry.
func (n Number) Masked() string {
	national := n.National()
	if len(national) <= 4 {
		return string(n)
	}
	return CountryCode + strings.Repeat("*", len(national)-4) + national[len(national)-4:]
}

// Display formats the number for humans (e.g. "+91 98765 43210").
// Falls back to the canonical form when the number cannot be parsed.
func (n Number) Display() string {
	if n == "" {
		return ""
	}
	parsed, err := phonenumbers.Parse(string(n), "IN")
	if err != nil {
		return string(n)
	}
	return phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL)
}

// SanitizeCode keeps only digits from raw, capped at the 6 digits a verification code has.
func SanitizeCode(raw string) string {
	return digitsOnly(raw, codeDigits)
}

func digitsOnly(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == max {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
