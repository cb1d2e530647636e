package extract

import (
	"strings"
	"time"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

const kindOrg = "organization"

// Party names keyed by their canonical short form
var knownOrganizations = map[string][]string{
	"BJP": {"BJP", "भाजपा", "भारतीय जनता पार्टी", "Bharatiya Janata Party"},
	"INC": {"INC", "Congress", "कांग्रेस", "Indian National Congress"},
	"AAP": {"AAP", "Aam Aadmi Party", "आम आदमी पार्टी"},
	"BSP": {"BSP", "बसपा", "Bahujan Samaj Party"},
}

var orgAliases = func() []refdata.Alias {
	var out []refdata.Alias
	for code, names := range knownOrganizations {
		for _, n := range names {
			out = append(out, refdata.Alias{Code: code, Text: n, Keys: strings.Fields(textnorm.Key(n))})
		}
	}
	return out
}()

var orgSuffixes = map[string]bool{
	"विभाग": true, "department": true, "vibhag": true,
	"निगम": true, "nigam": true, "समिति": true, "samiti": true,
	"board": true, "बोर्ड": true, "मंडल": true, "mandal": true,
	"आयोग": true, "aayog": true, "संघ": true, "sangh": true,
	"party": true, "पार्टी": true, "panchayat": true, "पंचायत": true,
}

// suffixOrganizations finds names such as "लोक निर्माण विभाग" or
// "Janpad Panchayat": up to three name words followed by an
// organizational suffix
func suffixOrganizations(toks []token, covered []bool) []string {
	var out []string
	for i, t := range toks {
		if !orgSuffixes[t.fold] || i == 0 || t.broken || covered[i] {
			continue
		}
		start := i
		for j := i - 1; j >= 0 && i-j <= 3; j-- {
			p := toks[j]
			if stopwords[p.fold] || p.handle || covered[j] || !nameLike(p.raw) {
				break
			}
			start = j
			if p.broken {
				break
			}
		}
		if start == i {
			continue
		}
		parts := make([]string, 0, i-start+1)
		for _, p := range toks[start : i+1] {
			parts = append(parts, p.raw)
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out
}

// findPeople takes up to three name words after an honorific. Handles,
// stopwords, punctuation and tokens already claimed by another match end
// the name.
func findPeople(toks []token, covered []bool) []string {
	var people []string
	seen := map[string]bool{}
	for i, t := range toks {
		if !honorifics[t.fold] {
			continue
		}
		var parts []string
		for j := i + 1; j < len(toks) && len(parts) < 3; j++ {
			n := toks[j]
			if honorifics[n.fold] || stopwords[n.fold] || nameSuffixes[n.fold] || n.handle || covered[j] || !nameLike(n.raw) {
				break
			}
			if len(parts) > 0 && n.broken {
				break
			}
			parts = append(parts, n.raw)
		}
		if len(parts) == 0 {
			continue
		}
		name := strings.Join(parts, " ")
		if k := textnorm.Key(name); !seen[k] {
			seen[k] = true
			people = append(people, name)
		}
	}
	return people
}

var (
	todayWords     = map[string]bool{"आज": true, "today": true, "aaj": true}
	yesterdayWords = map[string]bool{"कल": true, "yesterday": true, "kal": true}
)

// findDate returns the first explicit date in the post, else a relative
// mention resolved against the post's creation date
func findDate(post domain.RawPost, toks []token) (string, bool) {
	if d, ok := NormalizeDate(post.Text); ok {
		return d, true
	}
	if post.CreatedAt.IsZero() {
		return "", false
	}
	for _, t := range toks {
		switch {
		case todayWords[t.fold]:
			return post.CreatedAt.Format(time.DateOnly), true
		case yesterdayWords[t.fold]:
			return post.CreatedAt.AddDate(0, 0, -1).Format(time.DateOnly), true
		}
	}
	return "", false
}
