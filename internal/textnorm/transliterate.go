package textnorm

import (
	"strings"
	"unicode"
)

var consonants = map[rune]string{
	'क': "k", 'ख': "kh", 'ग': "g", 'घ': "gh", 'ङ': "n",
	'च': "ch", 'छ': "chh", 'ज': "j", 'झ': "jh", 'ञ': "n",
	'ट': "t", 'ठ': "th", 'ड': "d", 'ढ': "dh", 'ण': "n",
	'त': "t", 'थ': "th", 'द': "d", 'ध': "dh", 'न': "n",
	'प': "p", 'फ': "ph", 'ब': "b", 'भ': "bh", 'म': "m",
	'य': "y", 'र': "r", 'ल': "l", 'ळ': "l", 'व': "v",
	'श': "sh", 'ष': "sh", 'स': "s", 'ह': "h",
}

var vowels = map[rune]string{
	'अ': "a", 'आ': "aa", 'इ': "i", 'ई': "ii", 'उ': "u", 'ऊ': "uu",
	'ऋ': "ri", 'ए': "e", 'ऐ': "ai", 'ओ': "o", 'औ': "au", 'ऑ': "o",
}

var matras = map[rune]string{
	'ा': "aa", 'ि': "i", 'ी': "ii", 'ु': "u", 'ू': "uu", 'ृ': "ri",
	'े': "e", 'ै': "ai", 'ो': "o", 'ौ': "au", 'ॅ': "e", 'ॉ': "o",
}

const virama = '्'

type syllable struct {
	onset string
	vowel string
	coda  string
	schwa bool
}

// Transliterate renders Devanagari in s as rough Latin, deleting the
// inherent vowel where Hindi speech drops it. Other runes pass through.
func Transliterate(s string) string {
	if !HasDevanagari(s) {
		return s
	}
	var out strings.Builder
	var word []rune
	flush := func() {
		if len(word) > 0 {
			out.WriteString(transliterateWord(word))
			word = word[:0]
		}
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '।' || r == '॥' {
			flush()
			out.WriteRune(' ')
			continue
		}
		word = append(word, r)
	}
	flush()
	return strings.TrimSpace(out.String())
}

func transliterateWord(word []rune) string {
	var syls []syllable
	var latin strings.Builder

	emit := func() {
		for _, s := range syls {
			latin.WriteString(s.onset)
			latin.WriteString(s.vowel)
			latin.WriteString(s.coda)
		}
		syls = syls[:0]
	}

	for i := 0; i < len(word); i++ {
		r := word[i]
		switch {
		case consonants[r] != "":
			s := syllable{onset: consonants[r], vowel: "a", schwa: true}
			if i+1 < len(word) {
				next := word[i+1]
				if next == virama {
					s.vowel, s.schwa = "", false
					i++
				} else if m, ok := matras[next]; ok {
					s.vowel, s.schwa = m, false
					i++
				}
			}
			syls = append(syls, s)
		case vowels[r] != "":
			syls = append(syls, syllable{vowel: vowels[r]})
		case r == 'ं' || r == 'ँ':
			if len(syls) > 0 {
				syls[len(syls)-1].coda += "n"
			}
		case r == 'ः':
			if len(syls) > 0 {
				syls[len(syls)-1].coda += "h"
			}
		case r >= '०' && r <= '९':
			deleteSchwas(syls)
			emit()
			latin.WriteRune('0' + (r - '०'))
		case matras[r] != "":
			syls = append(syls, syllable{vowel: matras[r]})
		default:
			deleteSchwas(syls)
			emit()
			latin.WriteRune(r)
		}
	}
	deleteSchwas(syls)
	emit()
	return latin.String()
}

// deleteSchwas drops the word-final inherent vowel and any medial one that
// sits between a voiced syllable and a following consonant+vowel.
func deleteSchwas(syls []syllable) {
	n := len(syls)
	if n == 0 {
		return
	}
	final := n - 1
	dropFinal := n > 1 && syls[final].schwa && syls[final].coda == ""

	hasVowel := func(i int) bool {
		if i == final && dropFinal {
			return false
		}
		return syls[i].vowel != ""
	}

	for i := 1; i < final; i++ {
		s := syls[i]
		if !s.schwa || s.coda != "" {
			continue
		}
		if hasVowel(i-1) && syls[i+1].onset != "" && hasVowel(i+1) {
			syls[i].vowel = ""
			syls[i].schwa = false
		}
	}
	if dropFinal {
		syls[final].vowel = ""
		syls[final].schwa = false
	}
}
