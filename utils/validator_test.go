package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("ada@example.com"))
	assert.True(t, ValidateEmail("first.last+tag@mail.example.org"))
	assert.False(t, ValidateEmail("ada@example"))
	assert.False(t, ValidateEmail("not-an-email"))
	assert.False(t, ValidateEmail(" ada@example.com"))
	assert.False(t, ValidateEmail(strings.Repeat("a", 250)+"@example.com"))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "Tech Summit", SanitizeInput("  Tech Summit\x00 "))
	assert.Equal(t, "line one\nline two", SanitizeInput("line one\nline two\r"))
	assert.Empty(t, SanitizeInput(" \x00\x07 "))
}
