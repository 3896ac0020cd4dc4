// Package privacy masks personal data before it reaches logs.
package privacy

import "strings"

// MaskEmail keeps the first character of the local part and the domain:
// "farmer@example.com" becomes "f*****@example.com". Input without an '@'
// is masked entirely.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return strings.Repeat("*", len(email))
	}
	first := []rune(local)[0]
	rest := len([]rune(local)) - 1
	return string(first) + strings.Repeat("*", max(rest, 1)) + "@" + domain
}
