package member

import "strings"

// NormalizeEmail performs case-insensitive canonicalization for the
// unique-email constraint and login lookups.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
