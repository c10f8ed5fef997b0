package rules

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// inflections are the endings a term may carry and still match, so a rule on
// "kid" also catches "kids" and "kid's" but not "kidney".
var inflections = []string{"s", "es", "'s", "’s"}

// ContainsTerm reports whether term occurs in text as a whole word or phrase,
// optionally followed by a plural or possessive ending. Both arguments must
// already be lowercased. Boundaries are only enforced on the edges of term
// that are word characters, so terms like "18+" still match.
func ContainsTerm(text, term string) bool {
	if term == "" || len(term) > len(text) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)
	checkStart, checkEnd := isWordRune(first), isWordRune(last)

	for offset := 0; offset <= len(text)-len(term); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)
		if (!checkStart || boundaryBefore(text, start)) && (!checkEnd || inflectedBoundary(text, end)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

// ContainsAny returns the first term in terms that occurs in text.
func ContainsAny(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if ContainsTerm(text, t) {
			return t, true
		}
	}
	return "", false
}

// Tokens splits lowercased text into word tokens.
func Tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) })
}

func inflectedBoundary(s string, i int) bool {
	if boundaryAfter(s, i) {
		return true
	}
	for _, suffix := range inflections {
		if strings.HasPrefix(s[i:], suffix) && boundaryAfter(s, i+len(suffix)) {
			return true
		}
	}
	return false
}

// baseForms returns tok and the forms it has with an inflection removed.
func baseForms(tok string) []string {
	forms := []string{tok}
	for _, suffix := range []string{"s", "es"} {
		if base, ok := strings.CutSuffix(tok, suffix); ok && base != "" {
			forms = append(forms, base)
		}
	}
	return forms
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isSingleToken reports whether w is matched by token lookup rather than a phrase scan.
func isSingleToken(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}
