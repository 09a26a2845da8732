// Package sanitizer strips markup from user-supplied display text before it
// is embedded in session tokens or echoed back to clients.
package sanitizer

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength caps a sanitized display name, in runes.
const MaxNameLength = 100

// NameSanitizer removes all HTML from names using bluemonday's strict policy.
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer creates a new NameSanitizer instance
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize strips tags, drops control characters, collapses whitespace and truncates.
func (s *NameSanitizer) Sanitize(name string) string {
	if name == "" {
		return ""
	}

	// StrictPolicy escapes entities; names are stored as plain text.
	plain := html.UnescapeString(s.policy.Sanitize(name))

	var b strings.Builder
	b.Grow(len(plain))
	space := false
	n := 0
	for _, r := range strings.TrimSpace(plain) {
		if n >= MaxNameLength {
			break
		}
		switch {
		case unicode.IsSpace(r):
			if space {
				continue
			}
			space = true
			r = ' '
		case unicode.IsControl(r):
			continue
		default:
			space = false
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
