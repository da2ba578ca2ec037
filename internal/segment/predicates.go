package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ─── Boundary predicates ─────────────────────────────────────────────────────
//
// Predicates address text by byte offset. Terminal marks are ASCII, so a byte
// that matches one is never part of a multi-byte sequence.

// IsTerminal reports whether r can end a sentence.
func IsTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// HasTrailingSpace reports whether the byte at i is followed by a complete
// character and that character is whitespace. A mark at the very end of the
// buffer, or one followed by a truncated UTF-8 sequence, is never a boundary
// until more text (or end-of-stream) arrives.
func HasTrailingSpace(text string, i int) bool {
	r, ok := runeAfter(text, i)
	return ok && unicode.IsSpace(r)
}

// IsDecimalPoint reports whether the byte at i is a period with a digit
// immediately on both sides, as in "3.14".
func IsDecimalPoint(text string, i int) bool {
	if text[i] != '.' || i == 0 {
		return false
	}
	next, ok := runeAfter(text, i)
	if !ok {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsDigit(prev) && unicode.IsDigit(next)
}

// TrailingToken returns the lower-cased token that ends at byte i. The token
// is the longest run of word characters and periods ending at i, starting at
// its first word character. It returns "" when text[i] is not part of such a
// run (for example '!' or '?') or when the run contains no word character.
func TrailingToken(text string, i int) string {
	last, size := utf8.DecodeRuneInString(text[i:])
	if !isTokenRune(last) {
		return ""
	}
	end := i + size
	start := i
	for start > 0 {
		r, n := utf8.DecodeLastRuneInString(text[:start])
		if !isTokenRune(r) {
			break
		}
		start -= n
	}
	tok := strings.TrimLeftFunc(text[start:end], func(r rune) bool { return !isWordRune(r) })
	if tok == "" {
		return ""
	}
	return strings.ToLower(tok)
}

// IsAbbreviation reports whether the token ending at byte i is a known
// abbreviation such as "dr." or "e.g.".
func (s *Segmenter) IsAbbreviation(text string, i int) bool {
	tok := TrailingToken(text, i)
	if tok == "" {
		return false
	}
	_, ok := s.abbreviations[tok]
	return ok
}

// IsBoundary reports whether the byte at i closes a sentence: a terminal mark,
// followed by whitespace, that is neither a decimal point nor the end of an
// abbreviation.
func (s *Segmenter) IsBoundary(text string, i int) bool {
	if !IsTerminal(rune(text[i])) {
		return false
	}
	if !HasTrailingSpace(text, i) {
		return false
	}
	if IsDecimalPoint(text, i) {
		return false
	}
	return !s.IsAbbreviation(text, i)
}

// runeAfter decodes the character following the single-byte mark at i. ok is
// false at the end of text or when the following bytes are an incomplete
// sequence still waiting for the rest of a delta.
func runeAfter(text string, i int) (rune, bool) {
	rest := text[i+1:]
	if rest == "" || !utf8.FullRuneInString(rest) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return r, true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isTokenRune(r rune) bool {
	return r == '.' || isWordRune(r)
}
