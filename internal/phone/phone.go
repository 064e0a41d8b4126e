// Package phone provides phone number sanitization, validation and
// normalization. The numbering rules (digit bounds, country code) are a
// deployment configuration point; the defaults match the Kuwait numbering
// plan (8-digit local numbers, country code 965).
package phone

import (
	"fmt"
	"strings"
)

// Rules holds the numbering-plan parameters for a deployment region.
type Rules struct {
	// MinDigits is the minimum digit count for a valid number.
	// This is also the length of a bare local number.
	MinDigits int
	// MaxDigits is the maximum digit count (country prefix included).
	MaxDigits int
	// CountryCode is the dialing country code without prefix, e.g. "965".
	CountryCode string
}

// DefaultRules returns the Kuwait numbering plan:
// 8 local digits, up to 00965 + 8 = 13 digits, country code 965.
func DefaultRules() Rules {
	return Rules{MinDigits: 8, MaxDigits: 13, CountryCode: "965"}
}

// Validation is the result of validating a raw phone number.
type Validation struct {
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
	Sanitized string `json:"sanitized,omitempty"`
}

// hidden Unicode characters stripped during sanitization:
// zero-width spaces, BOM, bidirectional controls, word joiner,
// invisible separator. These show up routinely in numbers pasted
// from spreadsheets and RTL documents.
func isHiddenRune(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200D:
		return true
	case r == 0xFEFF:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r == 0x2060, r == 0x2063:
		return true
	}
	return false
}

// Sanitize strips whitespace, hidden Unicode characters, backslashes and
// all other non-digit characters from a phone number, preserving a single
// leading "+" if present. Returns "" when nothing remains.
func (ru Rules) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	var cleaned strings.Builder
	for _, r := range raw {
		if r == '\\' || isHiddenRune(r) {
			continue
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		cleaned.WriteRune(r)
	}

	s := cleaned.String()
	hasPlus := strings.HasPrefix(s, "+")

	digits := digitsOnly(s)
	if digits == "" {
		return ""
	}
	if hasPlus {
		return "+" + digits
	}
	return digits
}

// Validate checks a raw phone number before sanitization, so problems can
// be reported to the user with a specific message. An empty input is valid
// (phone is an optional contact channel).
func (ru Rules) Validate(raw string) Validation {
	if raw == "" {
		return Validation{Valid: true}
	}

	// Letters are the most common data-entry error and get their own message
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return Validation{Valid: false, Error: "Phone number contains letters"}
		}
	}

	sanitized := ru.Sanitize(raw)
	if sanitized == "" {
		return Validation{Valid: false, Error: "Phone number is empty after sanitization"}
	}

	length := len(digitsOnly(sanitized))

	if length < ru.MinDigits {
		return Validation{
			Valid:     false,
			Error:     fmt.Sprintf("Phone number too short (%d digits, minimum %d)", length, ru.MinDigits),
			Sanitized: sanitized,
		}
	}

	if length > ru.MaxDigits {
		return Validation{
			Valid:     false,
			Error:     fmt.Sprintf("Phone number too long (%d digits, maximum %d)", length, ru.MaxDigits),
			Sanitized: sanitized,
		}
	}

	return Validation{Valid: true, Sanitized: sanitized}
}

// IsValid reports whether an already-sanitized phone number is acceptable:
// only digits with an optional leading "+", digit count within bounds.
// Empty is valid (phone is optional).
func (ru Rules) IsValid(p string) bool {
	if p == "" {
		return true
	}
	rest := strings.TrimPrefix(p, "+")
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	n := len(rest)
	return n >= ru.MinDigits && n <= ru.MaxDigits
}

// Normalize canonicalizes a phone number to the international 00-prefixed
// form (e.g. 00965XXXXXXXX). Numbers that already carry the country code
// (with or without 00, or with +) and bare local-length numbers are all
// mapped to the same canonical string. Anything else is returned digits-only.
func (ru Rules) Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	digits := digitsOnly(raw)

	if strings.HasPrefix(digits, "00"+ru.CountryCode) {
		return digits
	}
	if strings.HasPrefix(digits, ru.CountryCode) {
		return "00" + digits
	}
	if len(digits) == ru.MinDigits {
		return "00" + ru.CountryCode + digits
	}

	return digits
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
