package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/embedding"
	"github.com/pbaille/govpulse/internal/ratelimit"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

const (
	// DefaultVectorThreshold is the minimum similarity of an accepted vector hit
	DefaultVectorThreshold = 0.82

	maxVectorQueries = 32
	minVectorRunes   = 4
	personConfidence = 0.8
	orgSuffixScore   = 0.7
)

// RuleLayer is layer C: alias matching over phonetic keys, vector search
// for near misses, and regex/pattern extraction of dates, people and
// organizations. It needs no model.
type RuleLayer struct {
	searcher  embedding.Searcher
	limiter   *ratelimit.Limiter
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	version string
	index   *aliasIndex
}

// NewRuleLayer creates layer C. searcher and limiter may be nil.
func NewRuleLayer(searcher embedding.Searcher, limiter *ratelimit.Limiter, threshold float64, timeout time.Duration, logger *slog.Logger) *RuleLayer {
	if threshold <= 0 {
		threshold = DefaultVectorThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleLayer{searcher: searcher, limiter: limiter, threshold: threshold, timeout: timeout, logger: logger}
}

func (l *RuleLayer) ID() domain.LayerID     { return domain.LayerC }
func (l *RuleLayer) Timeout() time.Duration { return l.timeout }

type span struct {
	start, end int
	kind       string
	code       string
	text       string
	score      float64
}

func (s span) length() int { return s.end - s.start }

// aliasIndex buckets aliases by their first key token. keys[k][i] is the
// full key sequence of byFirst[k][i].
type aliasIndex struct {
	byFirst map[string][]span
	keys    map[string][][]string
}

func buildAliasIndex(snap *refdata.Snapshot) *aliasIndex {
	ix := &aliasIndex{byFirst: map[string][]span{}, keys: map[string][][]string{}}
	add := func(kind string, aliases []refdata.Alias) {
		for _, a := range aliases {
			if len(a.Keys) == 0 {
				continue
			}
			first := a.Keys[0]
			ix.byFirst[first] = append(ix.byFirst[first], span{kind: kind, code: a.Code, text: a.Text, score: 1})
			ix.keys[first] = append(ix.keys[first], a.Keys)
		}
	}
	if snap != nil {
		add(embedding.KindScheme, snap.SchemeAliases())
		add(embedding.KindEventType, snap.EventTypeAliases())
		add(embedding.KindGeo, snap.GeoAliases())
	}
	add(kindOrg, orgAliases)
	return ix
}

func (l *RuleLayer) aliases(snap *refdata.Snapshot) *aliasIndex {
	version := ""
	if snap != nil {
		version = snap.Version
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index == nil || l.version != version {
		l.index = buildAliasIndex(snap)
		l.version = version
	}
	return l.index
}

func (l *RuleLayer) Extract(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) (domain.ExtractionResult, error) {
	var res domain.ExtractionResult
	run := func(ctx context.Context) error {
		var err error
		res, err = l.extract(ctx, post, snap)
		return err
	}
	if l.limiter != nil {
		if err := l.limiter.Do(ctx, domain.LayerC, run); err != nil {
			return domain.ExtractionResult{}, err
		}
		return res, nil
	}
	return res, run(ctx)
}

func (l *RuleLayer) extract(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) (domain.ExtractionResult, error) {
	toks := tokenize(post.Text)

	exact := matchAliases(toks, l.aliases(snap))
	covered := make([]bool, len(toks))
	for _, s := range exact {
		for i := s.start; i < s.end; i++ {
			covered[i] = true
		}
	}

	vector, err := l.vectorSpans(ctx, toks, covered)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	spans := append(exact, vector...)
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for _, s := range vector {
		for i := s.start; i < s.end; i++ {
			covered[i] = true
		}
	}

	res := domain.ExtractionResult{Layer: domain.LayerC}
	var fieldScores []float64

	// event type: earliest mention wins
	for _, s := range spans {
		if s.kind == embedding.KindEventType && s.code != domain.EventTypeOther {
			res.EventType = s.code
			fieldScores = append(fieldScores, s.score)
			break
		}
	}

	if d, ok := findDate(post, toks); ok {
		res.EventDate = d
		fieldScores = append(fieldScores, 1)
	}

	var locScores, schemeScores, orgScores []float64
	seenLoc, seenScheme, seenOrg := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, s := range spans {
		switch s.kind {
		case embedding.KindGeo:
			name := s.text
			if snap != nil {
				if e, ok := snap.Entry(s.code); ok {
					name = e.Name
				}
			}
			k := textnorm.Key(name)
			if !seenLoc[k] {
				seenLoc[k] = true
				res.Locations = append(res.Locations, name)
				locScores = append(locScores, s.score)
			}
		case embedding.KindScheme:
			if !seenScheme[s.code] {
				seenScheme[s.code] = true
				res.Schemes = append(res.Schemes, s.code)
				schemeScores = append(schemeScores, s.score)
			}
		case kindOrg:
			if k := textnorm.Key(s.code); !seenOrg[k] {
				seenOrg[k] = true
				res.Organizations = append(res.Organizations, s.code)
				orgScores = append(orgScores, s.score)
			}
		}
	}
	for _, org := range suffixOrganizations(toks, covered) {
		if k := textnorm.Key(org); !seenOrg[k] {
			seenOrg[k] = true
			res.Organizations = append(res.Organizations, org)
			orgScores = append(orgScores, orgSuffixScore)
		}
	}

	res.People = findPeople(toks, covered)
	if len(res.People) > 0 {
		fieldScores = append(fieldScores, personConfidence)
	}
	for _, scores := range [][]float64{locScores, schemeScores, orgScores} {
		if len(scores) > 0 {
			fieldScores = append(fieldScores, mean(scores))
		}
	}
	if len(fieldScores) > 0 {
		res.Confidence = mean(fieldScores)
	}
	return res, nil
}

// matchAliases finds every alias whose key sequence occurs in the tokens
// and keeps the longest non-overlapping matches
func matchAliases(toks []token, ix *aliasIndex) []span {
	var found []span
	for i, t := range toks {
		cands := ix.byFirst[t.key]
		for c, cand := range cands {
			keys := ix.keys[t.key][c]
			if i+len(keys) > len(toks) {
				continue
			}
			ok := true
			for j := 1; j < len(keys); j++ {
				if toks[i+j].key != keys[j] {
					ok = false
					break
				}
			}
			if ok {
				cand.start, cand.end = i, i+len(keys)
				found = append(found, cand)
			}
		}
	}
	return pickSpans(found)
}

// pickSpans keeps the best spans that do not overlap a better span of the
// same kind. Identical spans resolving to different codes all survive so a
// name shared by several entries keeps every entry.
func pickSpans(found []span) []span {
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.length() != b.length() {
			return a.length() > b.length()
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.start != b.start {
			return a.start < b.start
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.code < b.code
	})

	var out []span
	for _, s := range found {
		keep := true
		for _, o := range out {
			if o.kind != s.kind {
				continue
			}
			if o.start == s.start && o.end == s.end {
				if o.code == s.code {
					keep = false
					break
				}
				continue
			}
			if s.start < o.end && o.start < s.end {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// vectorSpans queries the vector index with uncovered unigrams and bigrams
func (l *RuleLayer) vectorSpans(ctx context.Context, toks []token, covered []bool) ([]span, error) {
	if l.searcher == nil {
		return nil, nil
	}
	var found []span
	queries := 0
	for n := 2; n >= 1; n-- {
		for i := 0; i+n <= len(toks); i++ {
			if queries >= maxVectorQueries {
				break
			}
			skip := false
			var parts []string
			for j := i; j < i+n; j++ {
				if covered[j] || stopwords[toks[j].fold] || honorifics[toks[j].fold] || (j > i && toks[j].broken) {
					skip = true
					break
				}
				parts = append(parts, toks[j].raw)
			}
			if skip {
				continue
			}
			q := strings.Join(parts, " ")
			if len([]rune(textnorm.Key(q))) < minVectorRunes {
				continue
			}
			queries++
			hits, err := l.searcher.Search(ctx, q, 3)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				l.logger.Warn("Vector search failed, continuing without it", "error", err)
				return found, nil
			}
			for _, h := range hits {
				if h.Score < l.threshold {
					continue
				}
				found = append(found, span{start: i, end: i + n, kind: h.Kind, code: h.Code, text: h.Text, score: h.Score})
			}
		}
	}
	return pickSpans(found), nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
