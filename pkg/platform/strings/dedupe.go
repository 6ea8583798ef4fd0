// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// Dedupe applies normalize to every element, drops empty results and
// duplicates, and preserves first-seen order.
func Dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// DedupeAndTrim removes duplicates and blanks after trimming whitespace.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	return Dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element.
// Exclusion lists go through this so "Ann@x.io" and "ann@x.io " collapse.
func DedupeAndTrimLower(values []string) []string {
	return Dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}
