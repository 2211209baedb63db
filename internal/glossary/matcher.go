package glossary

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match returns the entries whose source term occurs in texts, in order of
// first occurrence. Matching is case-sensitive, respects word boundaries for
// alphabetic terms, and prefers the longest term at each position so that
// "Momo Ayase" shadows "Momo" where both would apply.
func Match(entries []Entry, texts []string) []Entry {
	if len(entries) == 0 || len(texts) == 0 {
		return nil
	}

	candidates := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.SourceTerm != "" {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].SourceTerm) > len(candidates[j].SourceTerm)
	})

	seen := make(map[string]bool)
	var matched []Entry
	for _, text := range texts {
		for pos := 0; pos < len(text); {
			e, ok := longestAt(candidates, text, pos)
			if !ok {
				_, size := utf8.DecodeRuneInString(text[pos:])
				pos += size
				continue
			}
			if !seen[e.SourceTerm] {
				seen[e.SourceTerm] = true
				matched = append(matched, e)
			}
			pos += len(e.SourceTerm)
		}
	}
	return matched
}

func longestAt(sorted []Entry, text string, pos int) (Entry, bool) {
	rest := text[pos:]
	for _, e := range sorted {
		if !strings.HasPrefix(rest, e.SourceTerm) {
			continue
		}
		if atBoundary(text, pos, pos+len(e.SourceTerm)) {
			return e, true
		}
	}
	return Entry{}, false
}

// atBoundary reports whether text[start:end] is not glued to surrounding word characters.
func atBoundary(text string, start, end int) bool {
	if start > 0 {
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		first, _ := utf8.DecodeRuneInString(text[start:end])
		if isWordRune(before) && isWordRune(first) {
			return false
		}
	}
	if end < len(text) {
		after, _ := utf8.DecodeRuneInString(text[end:])
		last, _ := utf8.DecodeLastRuneInString(text[start:end])
		if isWordRune(after) && isWordRune(last) {
			return false
		}
	}
	return true
}

// isWordRune is true for letters and digits of space-delimited scripts.
// CJK text has no word separators, so terms there match anywhere.
func isWordRune(r rune) bool {
	if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
