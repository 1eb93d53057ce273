// Package textutil holds string helpers shared by the log and transport layers.
package textutil

const ellipsis = "..."

// Truncate shortens s to at most maxChars runes. A cut string ends with "...".
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	if maxChars <= len(ellipsis) {
		return string(runes[:max(maxChars, 0)])
	}
	return string(runes[:maxChars-len(ellipsis)]) + ellipsis
}

// Truncated reports whether Truncate would shorten s.
func Truncated(s string, maxChars int) bool {
	return len([]rune(s)) > maxChars
}
