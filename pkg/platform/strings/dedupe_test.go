package strings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims, drops blanks and keeps first occurrence",
			input:    []string{"  bob@x.io ", "ann@x.io", "bob@x.io", "", "  "},
			expected: []string{"bob@x.io", "ann@x.io"},
		},
		{
			name:     "preserves case",
			input:    []string{"Ann", "ann"},
			expected: []string{"Ann", "ann"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{" Ann@X.io", "ann@x.io", "BOB@x.io ", "bob@x.io"})
	assert.Equal(t, []string{"ann@x.io", "bob@x.io"}, got)
}

func TestDedupe_CustomNormalizer(t *testing.T) {
	localPart := func(v string) string {
		before, _, _ := strings.Cut(v, "@")
		return before
	}
	got := Dedupe([]string{"ann@a.io", "ann@b.io", "@none.io", "bob@a.io"}, localPart)
	assert.Equal(t, []string{"ann", "bob"}, got)
}
