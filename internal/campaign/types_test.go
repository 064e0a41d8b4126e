package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEmail(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"maha@example.com", true},
		{"m.aha+tag@sub.example.co", true},
		{"not-an-email", false},
		{"@example.com", false},
		{"maha@", false},
		{"maha@example", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, ValidEmail(tc.in), "input %q", tc.in)
	}
}
