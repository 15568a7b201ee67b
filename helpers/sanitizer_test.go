package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "clean string untouched",
			input:    "A perfectly ordinary subject",
			expected: "A perfectly ordinary subject",
		},
		{
			name:     "null byte removed",
			input:    "before\x00after",
			expected: "beforeafter",
		},
		{
			name:     "invalid utf8 removed",
			input:    "abc\xff\xfedef",
			expected: "abcdef",
		},
		{
			name:     "control characters removed",
			input:    "a\x01b\x02c\x1fd",
			expected: "abcd",
		},
		{
			name:     "tab newline and cr kept",
			input:    "a\tb\nc\rd",
			expected: "a\tb\nc\rd",
		},
		{
			name:     "multibyte characters kept",
			input:    "café – ☕",
			expected: "café – ☕",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeUTF8(tt.input))
		})
	}
}
