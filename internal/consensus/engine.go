// Package consensus runs the extraction layers on a post and reconciles
// their answers into a single scored result.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pbaille/govpulse/internal/config"
	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/extract"
	"github.com/pbaille/govpulse/internal/geo"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/textnorm"
)

// SnapshotSource supplies the reference data a parse runs against
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*refdata.Snapshot, error)
}

// Options control scoring and the time budgets of a parse
type Options struct {
	Strict              bool
	AcceptanceThreshold float64
	ParseTimeout        time.Duration
	Fuzzy               textnorm.Thresholds
	GeoLookupTimeout    time.Duration
	GeoBudget           time.Duration
	GeoConcurrency      int
}

// OptionsFromConfig derives engine options. The parse timeout is the
// slowest layer's timeout plus the configured margin.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Strict:              cfg.Consensus.Strict,
		AcceptanceThreshold: cfg.Consensus.AcceptanceThreshold,
		ParseTimeout:        cfg.MaxLayerTimeout() + cfg.Consensus.ParseMargin,
		Fuzzy: textnorm.Thresholds{
			MaxEditDistance: cfg.Geo.MaxEditDistance,
			MinTokenOverlap: cfg.Geo.MinTokenOverlap,
			MinRunes:        textnorm.DefaultThresholds.MinRunes,
		},
		GeoLookupTimeout: cfg.Geo.LookupTimeout,
		GeoBudget:        cfg.Geo.PostBudget,
		GeoConcurrency:   cfg.Geo.MaxConcurrent,
	}
}

func (o *Options) fill() {
	if o.ParseTimeout <= 0 {
		o.ParseTimeout = extract.DefaultTimeout + 2*time.Second
	}
	if o.Fuzzy == (textnorm.Thresholds{}) {
		o.Fuzzy = textnorm.DefaultThresholds
	}
	if o.GeoLookupTimeout <= 0 {
		o.GeoLookupTimeout = 100 * time.Millisecond
	}
	if o.GeoBudget <= 0 {
		o.GeoBudget = 300 * time.Millisecond
	}
	if o.GeoConcurrency <= 0 {
		o.GeoConcurrency = 6
	}
}

// Engine is the single entry point for turning a post into a ConsensusResult
type Engine struct {
	refs     SnapshotSource
	layers   map[domain.LayerID]extract.Layer
	resolver *geo.Resolver
	opts     Options
	logger   *slog.Logger

	// OnLayerResult and OnParse, when set, observe every layer result and
	// every completed parse
	OnLayerResult func(domain.ExtractionResult)
	OnParse       func(*domain.ConsensusResult)
}

// NewEngine wires the engine. resolver may be nil, in which case locations
// are not resolved into hierarchies.
func NewEngine(refs SnapshotSource, layers []extract.Layer, resolver *geo.Resolver, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	opts.fill()
	byID := make(map[domain.LayerID]extract.Layer, len(layers))
	for _, l := range layers {
		byID[l.ID()] = l
	}
	return &Engine{refs: refs, layers: byID, resolver: resolver, opts: opts, logger: logger}
}

// Parse extracts and reconciles the fields of post. The only error it
// returns wraps domain.ErrReferenceDataUnavailable; every layer failure
// is absorbed into the result.
func (e *Engine) Parse(ctx context.Context, post domain.RawPost) (*domain.ConsensusResult, error) {
	start := time.Now()
	snap, err := e.refs.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("parse post %s: %w", post.ID, err)
	}

	results := e.runLayers(ctx, post, snap)

	al := newAligner(results, e.opts.Fuzzy)
	res := &domain.ConsensusResult{
		PostID:          post.ID,
		Fields:          make(map[domain.FieldName]domain.FieldConsensus, len(domain.TrackedFields)),
		SnapshotVersion: snap.Version,
	}
	total := 0.0
	for _, f := range domain.TrackedFields {
		fc := al.field(f)
		res.Fields[f] = fc
		total += fc.Confidence
		if len(fc.ConflictingValues) > 0 {
			res.Conflicts = append(res.Conflicts, domain.Conflict{
				Kind:   domain.KindFieldDisagreement,
				Field:  f,
				Value:  displayValue(fc),
				Detail: fmt.Sprintf("conflicting values: %v", fc.ConflictingValues),
			})
		}
	}
	res.OverallScore = total / float64(len(domain.TrackedFields))
	res.AgreementLevel = overallAgreement(res.Fields)

	for _, r := range results {
		res.Layers = append(res.Layers, domain.LayerSummary{
			Layer:      r.Layer,
			Confidence: r.Confidence,
			LatencyMs:  r.LatencyMs,
			Err:        r.Err,
		})
	}

	e.resolveLocations(ctx, snap, post, res)

	if e.opts.Strict && res.OverallScore < e.opts.AcceptanceThreshold {
		res.BelowThreshold = true
		res.Conflicts = append(res.Conflicts, domain.Conflict{
			Kind:   domain.KindConsensusBelowThreshold,
			Detail: fmt.Sprintf("overall score %.2f below %.2f", res.OverallScore, e.opts.AcceptanceThreshold),
		})
	}

	e.logger.Info("Parse completed",
		"post_id", post.ID,
		"score", res.OverallScore,
		"agreement", res.AgreementLevel,
		"conflicts", len(res.Conflicts),
		"duration", time.Since(start))
	if e.OnParse != nil {
		e.OnParse(res)
	}
	return res, nil
}

// runLayers starts every layer and waits until all have settled or the
// parse deadline passes. Late results land in the buffered channel and
// are dropped with it.
func (e *Engine) runLayers(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) []domain.ExtractionResult {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ParseTimeout)
	defer cancel()

	got := make(map[domain.LayerID]domain.ExtractionResult, len(domain.Layers))
	ch := make(chan domain.ExtractionResult, len(domain.Layers))
	pending := 0
	for _, id := range domain.Layers {
		l, ok := e.layers[id]
		if !ok {
			got[id] = domain.Failed(id, domain.KindLayerAPIError, "layer not configured")
			continue
		}
		pending++
		go func() {
			ch <- extract.Run(ctx, l, post, snap)
		}()
	}

wait:
	for pending > 0 {
		select {
		case r := <-ch:
			got[r.Layer] = r
			pending--
		case <-ctx.Done():
			break wait
		}
	}

	out := make([]domain.ExtractionResult, 0, len(domain.Layers))
	for _, id := range domain.Layers {
		r, ok := got[id]
		if !ok {
			r = domain.Failed(id, domain.KindLayerTimeout, "parse deadline exceeded")
		}
		if !r.OK() {
			e.logger.Warn("Layer failed", "post_id", post.ID, "layer", id, "kind", r.Err, "detail", r.ErrDetail)
		}
		if e.OnLayerResult != nil {
			e.OnLayerResult(r)
		}
		out = append(out, r)
	}
	return out
}

type resolution struct {
	candidates []domain.GeoHierarchy
	timedOut   bool
}

// resolveLocations resolves every agreed location concurrently within the
// per-post budget and attaches the candidates in location order
func (e *Engine) resolveLocations(ctx context.Context, snap *refdata.Snapshot, post domain.RawPost, res *domain.ConsensusResult) {
	names := res.Fields[domain.FieldLocations].Values
	if e.resolver == nil || len(names) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.GeoBudget)
	defer cancel()

	found := make([]resolution, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.GeoConcurrency)
	for i, name := range names {
		g.Go(func() error {
			found[i] = e.lookup(gctx, snap, name, post.Text)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		l := found[i]
		if len(l.candidates) > 0 {
			res.GeoHierarchy = append(res.GeoHierarchy, l.candidates...)
			continue
		}
		if !l.timedOut && adminUnit(snap, name) {
			continue
		}
		detail := "no matching village, ward, gram panchayat or ulb"
		if l.timedOut {
			detail = "lookup timed out"
		}
		res.Conflicts = append(res.Conflicts, domain.Conflict{
			Kind:   domain.KindAmbiguousLocationUnresolved,
			Field:  domain.FieldLocations,
			Value:  name,
			Detail: detail,
		})
	}
}

// lookup runs one resolution under the per-lookup timeout
func (e *Engine) lookup(ctx context.Context, snap *refdata.Snapshot, name, text string) resolution {
	ctx, cancel := context.WithTimeout(ctx, e.opts.GeoLookupTimeout)
	defer cancel()

	done := make(chan []domain.GeoHierarchy, 1)
	go func() {
		done <- e.resolver.ResolveWith(ctx, snap, name, text)
	}()
	select {
	case c := <-done:
		return resolution{candidates: c}
	case <-ctx.Done():
		return resolution{timedOut: true}
	}
}

// adminUnit reports whether name is a block, assembly or district, which
// are valid locations that never resolve to a five-level hierarchy
func adminUnit(snap *refdata.Snapshot, name string) bool {
	entries := snap.ExactGeo(name)
	if len(entries) == 0 {
		entries = snap.TransliteratedGeo(name)
	}
	return len(entries) > 0
}

func displayValue(fc domain.FieldConsensus) string {
	if fc.Field.IsList() {
		return strings.Join(fc.Values, ", ")
	}
	return fc.Value
}
