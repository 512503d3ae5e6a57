package embedding

import "strings"

// truncateText shortens text to at most maxChars runes, preferring to break
// at the last whitespace boundary before the limit so word fragments aren't
// split. Falls back to a hard rune-boundary cut when no whitespace is found.
// Operates on runes throughout so multibyte UTF-8 text is never corrupted.
func truncateText(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	cut := string(runes[:maxChars])
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		return cut[:idx]
	}
	return cut
}
