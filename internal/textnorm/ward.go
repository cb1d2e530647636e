package textnorm

import (
	"strconv"
	"strings"
)

var wardWords = []string{"ward", "वार्ड", "वॉर्ड"}

// wardMarkers may sit between the ward word and its number
var wardMarkers = map[string]bool{
	"no": true, "number": true, "नं": true, "नंबर": true, "क्रमांक": true, "क्र": true,
}

// wardLinks are the only words allowed between a place name and its ward
var wardLinks = map[string]bool{
	"के": true, "का": true, "की": true, "ke": true, "ka": true, "ki": true, "of": true, "in": true,
}

// wardPhrase is a ward number mention spanning tokens [start, end)
type wardPhrase struct {
	start, end int
	no         int
}

// WardFor returns the ward number the text states for the place called by
// any of names, or nil. A mention belongs to a place only when it directly
// follows one of its names ("रायपुर वार्ड 5", "Raipur ke ward 5") or opens
// the clause right before it ("ward 12 Sarkanda"). Names are matched by
// phonetic key, so Latin names find Devanagari mentions and vice versa.
func WardFor(text string, names ...string) *int {
	var nameKeys [][]string
	for _, n := range names {
		if k := strings.Fields(Key(n)); len(k) > 0 {
			nameKeys = append(nameKeys, k)
		}
	}
	if len(nameKeys) == 0 {
		return nil
	}

	for _, clause := range clauses(text) {
		toks := strings.Fields(Fold(clause))
		phrases := wardPhrases(toks)
		if len(phrases) == 0 {
			continue
		}
		keys := make([]string, len(toks))
		for i, t := range toks {
			keys[i] = Key(t)
		}
		for start := range keys {
			for _, nk := range nameKeys {
				if !hasKeysAt(keys, nk, start) {
					continue
				}
				if n, ok := attached(toks, phrases, start, start+len(nk)); ok {
					return &n
				}
			}
		}
	}
	return nil
}

// clauses splits text where one place mention ends and another may begin.
// The full stop is kept because it abbreviates "no." and "क्र.".
func clauses(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', '।', '॥', '!', '?', '|', '\n':
			return true
		}
		return false
	})
}

func wardPhrases(toks []string) []wardPhrase {
	var out []wardPhrase
	for i := 0; i < len(toks); i++ {
		// glued form: "ward5"
		if n, ok := gluedWard(toks[i]); ok {
			out = append(out, wardPhrase{start: i, end: i + 1, no: n})
			continue
		}
		if !isWardWord(toks[i]) {
			continue
		}
		j := i + 1
		if j < len(toks) && wardMarkers[toks[j]] {
			j++
		}
		if j < len(toks) {
			if n, ok := wardNumber(toks[j]); ok {
				out = append(out, wardPhrase{start: i, end: j + 1, no: n})
				i = j
			}
		}
	}
	return out
}

func isWardWord(tok string) bool {
	for _, w := range wardWords {
		if tok == w {
			return true
		}
	}
	return false
}

func gluedWard(tok string) (int, bool) {
	for _, w := range wardWords {
		if rest, ok := strings.CutPrefix(tok, w); ok && rest != "" {
			return wardNumber(rest)
		}
	}
	return 0, false
}

func wardNumber(tok string) (int, bool) {
	n, err := strconv.Atoi(ASCIIDigits(tok))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func hasKeysAt(keys, want []string, start int) bool {
	if start+len(want) > len(keys) {
		return false
	}
	for i, k := range want {
		if keys[start+i] != k {
			return false
		}
	}
	return true
}

// attached finds a phrase bound to the name occupying tokens [start, end)
func attached(toks []string, phrases []wardPhrase, start, end int) (int, bool) {
	for _, p := range phrases {
		if p.start >= end && linked(toks[end:p.start]) {
			return p.no, true
		}
	}
	for _, p := range phrases {
		if p.start == 0 && p.end <= start && linked(toks[p.end:start]) {
			return p.no, true
		}
	}
	return 0, false
}

// linked reports whether the tokens between a name and a ward phrase are
// at most one joining word
func linked(between []string) bool {
	switch len(between) {
	case 0:
		return true
	case 1:
		return wardLinks[between[0]]
	}
	return false
}
