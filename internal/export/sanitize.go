package export

import (
	"strings"
	"unicode"
)

// SanitizeName drops control characters, replaces anything outside the
// EDL-safe set with '_' and truncates to maxLen runes (0 means no limit).
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case isAllowedNameRune(r):
			return r
		default:
			return '_'
		}
	}, s))

	if runes := []rune(cleaned); maxLen > 0 && len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" -_.,()", r)
}
