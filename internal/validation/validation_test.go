package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneNumber(t *testing.T) {
	v, err := New(6)
	require.NoError(t, err)

	tests := []struct {
		value string
		want  bool
	}{
		{"9876543210", true},
		{"6000000000", true},
		{"7123456789", true},
		{"8999999999", true},
		{"5876543210", false},
		{"0876543210", false},
		{"987654321", false},
		{"98765432100", false},
		{"98765a3210", false},
		{"+919876543210", false},
		{" 9876543210", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, v.PhoneNumber(tt.value), "phone %q", tt.value)
	}
}

func TestCode(t *testing.T) {
	v, err := New(6)
	require.NoError(t, err)

	assert.True(t, v.Code("123456"))
	assert.True(t, v.Code("000000"))
	assert.False(t, v.Code("12345"))
	assert.False(t, v.Code("1234567"))
	assert.False(t, v.Code("12345a"))
	assert.False(t, v.Code("１２３４５６"))
	assert.False(t, v.Code(""))
}

func TestPresent(t *testing.T) {
	v, err := New(6)
	require.NoError(t, err)

	assert.True(t, v.Present("x"))
	assert.False(t, v.Present(""))
}
