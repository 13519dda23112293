// Package stringutil provides small string helpers shared across components.
package stringutil

// TruncateStringWithEllipsis caps s at maxLen runes, replacing the tail of a
// long string with "..." so readers can tell the text continues. Strings
// within the limit come back unchanged. Cutting on rune boundaries keeps
// multi-byte content intact.
func TruncateStringWithEllipsis(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
