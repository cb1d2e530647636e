// Package textnorm folds Hindi and English text into comparable keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Latin combining accents and the Devanagari nukta are dropped; Devanagari
// vowel signs are marks too and must survive folding.
var dropMarks = runes.Predicate(func(r rune) bool {
	return (r >= 0x0300 && r <= 0x036F) || r == 0x093C
})

// Fold lowercases s, strips Latin diacritics and the nukta, and collapses
// punctuation and whitespace into single spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(dropMarks), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(Tokens(strings.ToLower(folded)), " ")
}

// Tokens splits s on anything that is not a letter, mark or digit
func Tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r))
	})
}

// Key returns a script-independent phonetic key: Devanagari is
// transliterated, then spelling variants common in romanized Hindi are
// collapsed.
func Key(s string) string {
	folded := Fold(s)
	if folded == "" {
		return ""
	}
	tokens := strings.Fields(Transliterate(folded))
	for i, tok := range tokens {
		tokens[i] = latinKey(tok)
	}
	return strings.Join(tokens, " ")
}

var digraphs = strings.NewReplacer(
	"chh", "c",
	"aa", "a",
	"ee", "i",
	"ii", "i",
	"oo", "u",
	"uu", "u",
	"ph", "f",
	"kh", "k",
	"gh", "g",
	"ch", "c",
	"jh", "j",
	"th", "t",
	"dh", "d",
	"bh", "b",
	"sh", "s",
	"w", "v",
	"z", "j",
	"q", "k",
	"mp", "np",
	"mb", "nb",
)

func latinKey(tok string) string {
	tok = digraphs.Replace(tok)
	tok = strings.ReplaceAll(tok, "ay", "ai")

	var sb strings.Builder
	var prev rune
	for _, r := range tok {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if r == prev {
			continue
		}
		sb.WriteRune(r)
		prev = r
	}
	out := sb.String()
	if len(out) > 3 && strings.HasSuffix(out, "a") {
		out = out[:len(out)-1]
	}
	return out
}

// HasDevanagari reports whether s contains any Devanagari letter
func HasDevanagari(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}
