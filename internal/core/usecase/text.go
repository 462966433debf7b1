package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitWordsLower tokenizes on anything that is not a letter or digit, so accented
// Italian words stay whole and "50.000" becomes ["50", "000"].
func splitWordsLower(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func toTokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range splitWordsLower(s) {
		set[tok] = struct{}{}
	}
	return set
}

func isNumericToken(token string) bool {
	return token != "" && strings.IndexFunc(token, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// normalizeStatement lowercases and collapses whitespace and surrounding punctuation.
func normalizeStatement(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
