// Package email normalizes participant identities. Participants are keyed by
// email address, so every trust boundary funnels addresses through Normalize.
package email

import (
	"strings"
	"unicode"
)

// Normalize trims surrounding whitespace and lowercases the address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DeriveDisplayName builds a readable name from the local part of an address,
// e.g. "mary.jane+santa@x.io" becomes "Mary Jane Santa".
func DeriveDisplayName(address string) string {
	localPart := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Participant"
	}

	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
