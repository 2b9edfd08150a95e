// Package phone normalises Australian phone numbers to E.164, per the
// external interface contract: 0XXXXXXXXX / +61XXXXXXXXX, with spaces,
// parens and hyphens ignored; mobile 04XXXXXXXX maps to +614XXXXXXXX;
// landline prefixes 2/3/7/8 map to +61[2378]XXXXXXXX. Invalid prefixes
// are rejected.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

var stripPattern = regexp.MustCompile(`[\s().-]+`)

var validLandlinePrefixes = map[byte]bool{
	'2': true, '3': true, '7': true, '8': true,
}

// Normalise converts raw into canonical +61E.164 form. Normalisation is
// idempotent: Normalise(Normalise(x)) == Normalise(x) for any x that
// normalises successfully.
func Normalise(raw string) (string, error) {
	s := stripPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" {
		return "", fmt.Errorf("phone: empty number")
	}

	switch {
	case strings.HasPrefix(s, "+61"):
		rest := s[3:]
		return normaliseNationalDigits(rest)
	case strings.HasPrefix(s, "61") && len(s) == 11:
		rest := s[2:]
		return normaliseNationalDigits(rest)
	case strings.HasPrefix(s, "0"):
		rest := s[1:]
		return normaliseNationalDigits(rest)
	default:
		// Already bare national digits without the leading trunk 0.
		return normaliseNationalDigits(s)
	}
}

// normaliseNationalDigits validates and formats a 9-digit Australian
// national number (the part after the trunk 0 or +61 country code).
func normaliseNationalDigits(digits string) (string, error) {
	if len(digits) != 9 {
		return "", fmt.Errorf("phone: expected 9 national digits, got %d (%q)", len(digits), digits)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone: non-digit character in number: %q", digits)
		}
	}

	lead := digits[0]
	if lead == '4' {
		return "+61" + digits, nil
	}
	if validLandlinePrefixes[lead] {
		return "+61" + digits, nil
	}

	return "", fmt.Errorf("phone: invalid Australian prefix %q in %q", string(lead), digits)
}

// MustNormalise is a test/seed-data helper; panics on invalid input.
func MustNormalise(raw string) string {
	n, err := Normalise(raw)
	if err != nil {
		panic(err)
	}
	return n
}
