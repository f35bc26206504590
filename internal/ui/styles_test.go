package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormattersCarryPrefixAndMessage(t *testing.T) {
	tests := map[string]struct {
		fn     func(string) string
		prefix string
	}{
		"Success": {Success, "✓"},
		"Warn":    {Warn, "⚠"},
		"Err":     {Err, "✗"},
		"Info":    {Info, "ℹ"},
		"Hint":    {Hint, "💡"},
		"Addr":    {Addr, ""},
		"Val":     {Val, ""},
		"Meta":    {Meta, ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			result := tc.fn("sale open")
			assert.Contains(t, result, "sale open")
			assert.Contains(t, result, tc.prefix)
		})
	}
}

func TestInfoDifferentFromHint(t *testing.T) {
	assert.NotEqual(t, Info("message"), Hint("message"))
}

func TestFlag(t *testing.T) {
	assert.Contains(t, Flag(true), "yes")
	assert.Contains(t, Flag(false), "no")
}

func TestTruncateAddr(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"0x1234":     "0x1234",
		"0x12345678": "0x12345678",
		"0x1234567890abcdef1234567890abcdef12345678": "0x1234…5678",
	}
	for in, want := range tests {
		assert.Equal(t, want, TruncateAddr(in), "input %q", in)
	}
}

func TestPadR(t *testing.T) {
	assert.Equal(t, "ab   ", padR("ab", 5))
	assert.Equal(t, "abcde", padR("abcde", 5))
	assert.Equal(t, "abcdef", padR("abcdef", 5), "longer strings are left alone")
	assert.Equal(t, "", padR("", 0))

	styled := StyleSuccess.Render("ok")
	assert.Equal(t, 4, lipgloss.Width(padR(styled, 4)), "pads by visible width")
}

func TestBanner(t *testing.T) {
	result := Banner()
	assert.NotEmpty(t, result)
	assert.Contains(t, result, "w3sale")
	assert.Contains(t, result, "custody")
}
