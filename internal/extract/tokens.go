package extract

import (
	"strings"
	"unicode"

	"github.com/pbaille/govpulse/internal/textnorm"
)

// token is a word of the post with its folded and phonetic forms
type token struct {
	raw    string
	fold   string
	key    string
	handle bool // directly preceded by '@'
	broken bool // separated from the previous token by punctuation
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r)
}

func tokenize(text string) []token {
	var toks []token
	var cur strings.Builder
	var at, punct bool

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		raw := cur.String()
		cur.Reset()
		fold := textnorm.Fold(raw)
		if fold == "" {
			return
		}
		toks = append(toks, token{raw: raw, fold: fold, key: textnorm.Key(raw), handle: at, broken: punct})
		at, punct = false, false
	}

	for _, r := range text {
		if isWordRune(r) {
			cur.WriteRune(r)
			continue
		}
		flush()
		switch {
		case r == '@':
			at = true
		case r == '#':
		case !unicode.IsSpace(r):
			punct = true
		}
	}
	flush()
	return toks
}

var stopwords = map[string]bool{
	"में": true, "का": true, "की": true, "के": true, "ने": true, "से": true, "को": true,
	"पर": true, "और": true, "भी": true, "है": true, "हैं": true, "था": true, "थे": true,
	"द्वारा": true, "साथ": true, "तथा": true, "एवं": true, "व": true, "ही": true, "लिए": true,
	"and": true, "at": true, "in": true, "on": true, "of": true, "the": true, "with": true,
	"for": true, "to": true, "from": true, "by": true, "was": true, "is": true, "has": true,
	"will": true, "said": true, "a": true, "an": true, "mein": true, "ne": true,
}

// nameLike reports whether a raw token can be part of a proper name:
// capitalized Latin or any Devanagari word
func nameLike(raw string) bool {
	for _, r := range raw {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
		return unicode.IsUpper(r)
	}
	return false
}
