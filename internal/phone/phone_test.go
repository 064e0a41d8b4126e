package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain digits", "50001122", "50001122"},
		{"spaces and dashes", " 5000 11-22 ", "50001122"},
		{"leading plus kept", "+965 5000 1122", "+96550001122"},
		{"plus not at start dropped", "965+50001122", "96550001122"},
		{"zero-width characters stripped", "5000​11‍22", "50001122"},
		{"bom stripped", "\uFEFF50001122", "50001122"},
		{"bidi marks stripped", "‪50001122‬", "50001122"},
		{"backslashes stripped", "5000\\1122", "50001122"},
		{"tabs and newlines", "5000\t11\n22", "50001122"},
		{"empty", "", ""},
		{"nothing left", "+- \\", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Sanitize(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name      string
		in        string
		valid     bool
		errSubstr string
	}{
		{"empty is valid", "", true, ""},
		{"local number", "50001122", true, ""},
		{"with country code", "96550001122", true, ""},
		{"canonical form", "0096550001122", true, ""},
		{"plus prefixed", "+96550001122", true, ""},
		{"letters rejected", "5000abc122", false, "contains letters"},
		{"letters rejected even with enough digits", "96550001122x", false, "contains letters"},
		{"too short", "5000112", false, "too short"},
		{"too long", "00965500011229999", false, "too long"},
		{"empty after sanitize", "+ \\", false, "empty after sanitization"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := rules.Validate(tt.in)
			assert.Equal(t, tt.valid, v.Valid)
			if tt.errSubstr != "" {
				assert.Contains(t, v.Error, tt.errSubstr)
			}
		})
	}
}

// Sanitize is idempotent through Validate: for any valid input, the
// sanitized value validates again to itself.
func TestValidateSanitizeIdempotent(t *testing.T) {
	rules := DefaultRules()

	inputs := []string{
		"50001122",
		" +965 5000-1122 ",
		"0096550001122",
		"​965 5000 1122",
	}

	for _, in := range inputs {
		first := rules.Validate(in)
		if !first.Valid {
			t.Fatalf("expected %q to be valid, got %q", in, first.Error)
		}
		second := rules.Validate(first.Sanitized)
		assert.True(t, second.Valid)
		assert.Equal(t, first.Sanitized, second.Sanitized)
	}
}

func TestNormalize(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"local 8 digits", "50001122", "0096550001122"},
		{"country code no 00", "96550001122", "0096550001122"},
		{"plus form", "+96550001122", "0096550001122"},
		{"already canonical", "0096550001122", "0096550001122"},
		{"unexpected shape returned digits-only", "12345", "12345"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Normalize(tt.in))
		})
	}
}

func TestNormalizeConfigurableRegion(t *testing.T) {
	// A 10-digit plan with a different country code must not be
	// hardwired to the defaults.
	rules := Rules{MinDigits: 10, MaxDigits: 13, CountryCode: "971"}

	assert.Equal(t, "00971501234567", rules.Normalize("971501234567"))
	assert.Equal(t, "00971", rules.Normalize("0501234567")[:5])
	assert.True(t, rules.Validate("0501234567").Valid)
	assert.False(t, rules.Validate("50011223").Valid) // valid under defaults, not here
}

func TestIsValid(t *testing.T) {
	rules := DefaultRules()

	assert.True(t, rules.IsValid(""))
	assert.True(t, rules.IsValid("50001122"))
	assert.True(t, rules.IsValid("+96550001122"))
	assert.False(t, rules.IsValid("+"))
	assert.False(t, rules.IsValid("5000 1122"))
	assert.False(t, rules.IsValid("5000112"))
}
