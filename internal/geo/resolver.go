// Package geo resolves free-text location names into administrative
// hierarchies.
package geo

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/embedding"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

// SnapshotSource supplies the current reference data
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*refdata.Snapshot, error)
}

// Options tune matching
type Options struct {
	Fuzzy           textnorm.Thresholds
	VectorThreshold float64
	MaxCandidates   int
}

// DefaultOptions match on edit distance ≤ 2 or token overlap ≥ 0.8 and
// accept vector hits from 0.9
var DefaultOptions = Options{
	Fuzzy:           textnorm.DefaultThresholds,
	VectorThreshold: 0.9,
	MaxCandidates:   5,
}

// ambiguousCap bounds the confidence of any candidate that shares its rank
const ambiguousCap = 0.9

// Resolver maps location names to GeoHierarchy candidates
type Resolver struct {
	source   SnapshotSource
	searcher embedding.Searcher
	opts     Options
	logger   *slog.Logger

	// OnOutcome, when set, receives the match kind of every lookup or "none"
	OnOutcome func(outcome string)
}

// NewResolver creates a resolver. searcher may be nil.
func NewResolver(source SnapshotSource, searcher embedding.Searcher, opts Options, logger *slog.Logger) *Resolver {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultOptions.MaxCandidates
	}
	if opts.Fuzzy == (textnorm.Thresholds{}) {
		opts.Fuzzy = DefaultOptions.Fuzzy
	}
	if opts.VectorThreshold <= 0 {
		opts.VectorThreshold = DefaultOptions.VectorThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, searcher: searcher, opts: opts, logger: logger}
}

// Resolve returns every plausible hierarchy for name, best first. postText
// is the surrounding post text used for disambiguation and ward numbers.
// An unknown name or unavailable reference data yields an empty slice.
func (r *Resolver) Resolve(ctx context.Context, name, postText string) []domain.GeoHierarchy {
	out, _ := r.ResolveRanked(ctx, name, postText)
	return out
}

// ResolveWith resolves against a snapshot the caller already holds
func (r *Resolver) ResolveWith(ctx context.Context, snap *refdata.Snapshot, name, postText string) []domain.GeoHierarchy {
	out, _ := r.resolve(ctx, snap, name, postText)
	return out
}

// ResolveAmbiguous returns the best candidate for name using hint as
// context. ok is false when nothing matched or when several candidates
// remain tied after disambiguation; the first of them is still returned.
func (r *Resolver) ResolveAmbiguous(ctx context.Context, name, hint string) (domain.GeoHierarchy, bool) {
	out, resolved := r.ResolveRanked(ctx, name, hint)
	if len(out) == 0 {
		return domain.GeoHierarchy{}, false
	}
	return out[0], resolved
}

// ResolveRanked is Resolve that also reports whether the first candidate
// stands alone at the top of the ranking.
func (r *Resolver) ResolveRanked(ctx context.Context, name, postText string) ([]domain.GeoHierarchy, bool) {
	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("Geo resolution without reference data", "name", name, "error", err)
		return nil, false
	}
	out, tied := r.resolve(ctx, snap, name, postText)
	return out, len(out) > 0 && tied == 1
}

type candidate struct {
	entry domain.GeographyEntry
	kind  domain.MatchKind
	sim   float64
	near  int
}

func tier(k domain.GeoKind) int {
	switch k {
	case domain.GeoVillage, domain.GeoWard:
		return 0
	default:
		return 1
	}
}

// rankEqual reports whether two candidates are indistinguishable on
// everything but their identity
func rankEqual(a, b candidate) bool {
	return a.near == b.near && tier(a.entry.Kind) == tier(b.entry.Kind) && a.sim == b.sim
}

// resolve returns the ranked hierarchies and the size of the leading tie
func (r *Resolver) resolve(ctx context.Context, snap *refdata.Snapshot, name, postText string) ([]domain.GeoHierarchy, int) {
	name = strings.TrimSpace(name)
	if snap == nil || textnorm.Fold(name) == "" {
		return nil, 0
	}

	cands := r.match(ctx, snap, name)
	if len(cands) == 0 {
		r.report("none")
		return nil, 0
	}
	r.report(string(cands[0].kind))

	near := contextEntities(snap, name, postText)
	for i := range cands {
		cands[i].near = near.score(cands[i].entry)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.near != b.near {
			return a.near > b.near
		}
		if ta, tb := tier(a.entry.Kind), tier(b.entry.Kind); ta != tb {
			return ta < tb
		}
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		if a.entry.District != b.entry.District {
			return a.entry.District < b.entry.District
		}
		if a.entry.Block != b.entry.Block {
			return a.entry.Block < b.entry.Block
		}
		if a.entry.Name != b.entry.Name {
			return a.entry.Name < b.entry.Name
		}
		return a.entry.ID < b.entry.ID
	})

	tied := 1
	for tied < len(cands) && rankEqual(cands[0], cands[tied]) {
		tied++
	}

	out := make([]domain.GeoHierarchy, 0, min(len(cands), r.opts.MaxCandidates))
	for i, c := range cands {
		if len(out) >= r.opts.MaxCandidates {
			break
		}
		conf := c.sim
		switch {
		case i < tied && tied > 1:
			conf = min(c.sim/float64(tied), ambiguousCap)
		case i >= tied:
			conf = min(c.sim/float64(len(cands)), ambiguousCap)
		}
		var ward *int
		if c.entry.IsUrban || c.entry.Kind == domain.GeoULB || c.entry.Kind == domain.GeoWard {
			ward = textnorm.WardFor(postText, placeNames(name, c.entry)...)
		}
		h, err := domain.NewGeoHierarchy(c.entry, ward, conf, c.kind)
		if err != nil {
			r.logger.Warn("Skipping malformed geography entry", "id", c.entry.ID, "error", err)
			continue
		}
		out = append(out, h)
	}
	return out, tied
}

// match runs the matching stages in order and stops at the first that
// yields candidates
func (r *Resolver) match(ctx context.Context, snap *refdata.Snapshot, name string) []candidate {
	if c := candidates(snap.ExactGeo(name), domain.MatchExact, 1); len(c) > 0 {
		return c
	}
	if c := candidates(snap.TransliteratedGeo(name), domain.MatchTransliterated, 1); len(c) > 0 {
		return c
	}
	if c := r.fuzzy(snap, name); len(c) > 0 {
		return c
	}
	return r.vector(ctx, snap, name)
}

func candidates(entries []domain.GeographyEntry, kind domain.MatchKind, sim float64) []candidate {
	var out []candidate
	for _, e := range entries {
		if e.Kind.Resolvable() {
			out = append(out, candidate{entry: e, kind: kind, sim: sim})
		}
	}
	return out
}

func (r *Resolver) fuzzy(snap *refdata.Snapshot, name string) []candidate {
	key := textnorm.Key(name)
	best := map[string]float64{}
	for _, a := range snap.GeoAliases() {
		sim, ok := textnorm.FuzzyEqualKeys(key, strings.Join(a.Keys, " "), r.opts.Fuzzy)
		if ok && sim > best[a.Code] {
			best[a.Code] = sim
		}
	}
	return r.fromScores(snap, best, domain.MatchFuzzy)
}

func (r *Resolver) vector(ctx context.Context, snap *refdata.Snapshot, name string) []candidate {
	if r.searcher == nil {
		return nil
	}
	hits, err := r.searcher.Search(ctx, name, r.opts.MaxCandidates*2)
	if err != nil {
		r.logger.Debug("Vector lookup failed", "name", name, "error", err)
		return nil
	}
	best := map[string]float64{}
	for _, h := range hits {
		if h.Kind == embedding.KindGeo && h.Score >= r.opts.VectorThreshold && h.Score > best[h.Code] {
			best[h.Code] = h.Score
		}
	}
	return r.fromScores(snap, best, domain.MatchVector)
}

func (r *Resolver) fromScores(snap *refdata.Snapshot, scores map[string]float64, kind domain.MatchKind) []candidate {
	var out []candidate
	for id, sim := range scores {
		e, ok := snap.Entry(id)
		if !ok || !e.Kind.Resolvable() {
			continue
		}
		out = append(out, candidate{entry: e, kind: kind, sim: sim})
	}
	return out
}

// placeNames are the ways a post may spell the place an entry describes
func placeNames(query string, e domain.GeographyEntry) []string {
	names := make([]string, 0, 3+len(e.Aliases))
	names = append(names, query, e.Name, e.NameHi)
	return append(names, e.Aliases...)
}

func (r *Resolver) report(outcome string) {
	if r.OnOutcome != nil {
		r.OnOutcome(outcome)
	}
}
