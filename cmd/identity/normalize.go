package identity

import "strings"

// NormalizeEmail trims surrounding whitespace. Emails are unique and
// case-sensitive as stored, so case is preserved.
func NormalizeEmail(s string) string {
	return strings.TrimSpace(s)
}
