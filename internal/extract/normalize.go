package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

var honorifics = map[string]bool{
	"श्री": true, "श्रीमती": true, "सुश्री": true, "डॉ": true, "माननीय": true,
	"shri": true, "sri": true, "shree": true, "smt": true, "shrimati": true,
	"dr": true, "mr": true, "mrs": true, "ms": true, "hon": true,
}

var nameSuffixes = map[string]bool{"जी": true, "ji": true}

// cleanPerson drops leading honorifics and a trailing "ji"
func cleanPerson(name string) string {
	toks := strings.Fields(name)
	for len(toks) > 0 && honorifics[textnorm.Fold(toks[0])] {
		toks = toks[1:]
	}
	for len(toks) > 0 && nameSuffixes[textnorm.Fold(toks[len(toks)-1])] {
		toks = toks[:len(toks)-1]
	}
	return strings.Join(toks, " ")
}

// dedupe trims values and keeps the first spelling of each phonetic key
func dedupe(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		k := textnorm.Key(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// canonicalEventType maps free text onto a known event type code.
// Unknown non-empty answers become "other".
func canonicalEventType(s string, snap *refdata.Snapshot) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if snap != nil {
		if code, ok := snap.EventTypeCode(s); ok {
			return code
		}
	}
	return "other"
}

// canonicalSchemes maps known scheme spellings to their codes and keeps
// unknown names as written
func canonicalSchemes(values []string, snap *refdata.Snapshot) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if snap != nil {
			if code, ok := snap.SchemeCode(v); ok {
				out = append(out, code)
				continue
			}
		}
		out = append(out, v)
	}
	return dedupe(out)
}

var (
	dmyPattern = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	ymdPattern = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
)

// NormalizeDate rewrites a dd/mm/yyyy, dd-mm-yyyy or yyyy-mm-dd date as
// yyyy-mm-dd. Impossible calendar dates are rejected.
func NormalizeDate(s string) (string, bool) {
	s = textnorm.ASCIIDigits(strings.TrimSpace(s))
	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3])
	}
	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[3], m[2], m[1])
	}
	return "", false
}

func buildDate(ys, ms, ds string) (string, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}
