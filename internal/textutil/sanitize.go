package textutil

import "strings"

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Diacritics are stripped first; ASCII letters, digits, hyphens, and
// underscores are kept and every other rune becomes an underscore. Returns
// "unknown" for input that leaves nothing usable.
func SanitizeToken(value string) string {
	value = FoldName(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
