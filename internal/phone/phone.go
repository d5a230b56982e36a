// Package phone normalizes customer phone numbers before they are texted and stored.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmpty is returned for a blank phone number.
var ErrEmpty = errors.New("empty phone")

var (
	plusTenDigits = regexp.MustCompile(`^\+[2-9]\d{9}$`)
	tenDigits     = regexp.MustCompile(`^\d{10}$`)
)

// FormatE164 turns a US number typed without country code into E.164.
//
//	"2085551234"  -> "+12085551234"
//	"+2085551234" -> "+12085551234"
//
// Anything else is returned trimmed but otherwise unchanged, so numbers that already
// carry a country code pass through.
func FormatE164(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", ErrEmpty
	}

	switch {
	case plusTenDigits.MatchString(p):
		return "+1" + p[1:], nil
	case tenDigits.MatchString(p):
		return "+1" + p, nil
	}
	return p, nil
}
