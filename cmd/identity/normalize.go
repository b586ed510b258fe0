package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Email uniqueness is enforced on the normalized form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
