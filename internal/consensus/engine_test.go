package consensus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/extract"
	"github.com/pbaille/govpulse/internal/geo"
	"github.com/pbaille/govpulse/internal/llm"
	"github.com/pbaille/govpulse/internal/ratelimit"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/refdata/refdatatest"
)

type staticSource struct {
	snap *refdata.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (*refdata.Snapshot, error) {
	return s.snap, s.err
}

// stubLayer returns a fixed result after an optional delay
type stubLayer struct {
	id          domain.LayerID
	res         domain.ExtractionResult
	err         error
	delay       time.Duration
	ignoreAbort bool
}

func (s *stubLayer) ID() domain.LayerID     { return s.id }
func (s *stubLayer) Timeout() time.Duration { return time.Minute }
func (s *stubLayer) Extract(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) (domain.ExtractionResult, error) {
	if s.delay > 0 {
		if s.ignoreAbort {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return domain.ExtractionResult{}, ctx.Err()
			}
		}
	}
	return s.res, s.err
}

var postDate = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(t *testing.T, opts Options, layers ...extract.Layer) *Engine {
	t.Helper()
	src := staticSource{snap: refdatatest.Snapshot(t)}
	resolver := geo.NewResolver(src, nil, geo.DefaultOptions, quietLogger)
	return NewEngine(src, layers, resolver, opts, quietLogger)
}

func full(id domain.LayerID, conf float64) *stubLayer {
	return &stubLayer{id: id, res: domain.ExtractionResult{
		EventType:     "meeting",
		EventDate:     "2025-03-14",
		Locations:     []string{"Raipur"},
		People:        []string{"Vijay Sharma"},
		Organizations: []string{"BJP"},
		Schemes:       []string{"PMAY"},
		Confidence:    conf,
	}}
}

func withEventType(l *stubLayer, et string) *stubLayer {
	l.res.EventType = et
	return l
}

func TestParseUnanimous(t *testing.T) {
	e := newEngine(t, Options{}, full(domain.LayerA, 0.9), full(domain.LayerB, 0.8), full(domain.LayerC, 1.0))

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p1", Text: "Raipur ward 5 baithak", CreatedAt: postDate})
	require.NoError(t, err)

	require.Len(t, res.Fields, len(domain.TrackedFields))
	for _, f := range domain.TrackedFields {
		fc := res.Fields[f]
		assert.Equal(t, f, fc.Field)
		assert.Equal(t, []domain.LayerID{domain.LayerA, domain.LayerB, domain.LayerC}, fc.AgreeingLayers, f)
		assert.InDelta(t, 0.9, fc.Confidence, 1e-9, f)
		assert.Equal(t, domain.AgreementFull, fc.Agreement, f)
		assert.Empty(t, fc.ConflictingValues, f)
	}
	assert.Equal(t, "meeting", res.Fields[domain.FieldEventType].Value)
	assert.Equal(t, []string{"PMAY"}, res.Fields[domain.FieldSchemes].Values)
	assert.InDelta(t, 0.9, res.OverallScore, 1e-9)
	assert.Equal(t, domain.AgreementFull, res.AgreementLevel)
	assert.Empty(t, res.Conflicts)
	assert.False(t, res.BelowThreshold)
	assert.NotEmpty(t, res.SnapshotVersion)
	require.Len(t, res.Layers, 3)

	require.Len(t, res.GeoHierarchy, 1)
	h := res.GeoHierarchy[0]
	assert.Equal(t, "u-raipur", h.EntryID)
	assert.True(t, h.IsUrban)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 5, *h.WardNo)
}

func TestParseMajorityEventType(t *testing.T) {
	e := newEngine(t, Options{},
		full(domain.LayerA, 0.9),
		full(domain.LayerB, 0.7),
		withEventType(full(domain.LayerC, 1.0), "rally"))

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p2", Text: "Raipur"})
	require.NoError(t, err)

	fc := res.Fields[domain.FieldEventType]
	assert.Equal(t, "meeting", fc.Value)
	assert.Equal(t, []string{"rally"}, fc.ConflictingValues)
	assert.Equal(t, domain.AgreementMajority, fc.Agreement)
	assert.Equal(t, []domain.LayerID{domain.LayerA, domain.LayerB}, fc.AgreeingLayers)
	assert.InDelta(t, 0.8, fc.Confidence, 1e-9)
	assert.Equal(t, domain.AgreementMajority, res.AgreementLevel)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, domain.KindFieldDisagreement, res.Conflicts[0].Kind)
	assert.Equal(t, domain.FieldEventType, res.Conflicts[0].Field)
	assert.Equal(t, "meeting", res.Conflicts[0].Value)
}

func TestParseTieBreak(t *testing.T) {
	t.Run("prefers layer C", func(t *testing.T) {
		e := newEngine(t, Options{},
			withEventType(full(domain.LayerA, 0.9), "rally"),
			withEventType(full(domain.LayerB, 0.95), "protest"),
			withEventType(full(domain.LayerC, 0.5), "meeting"))

		res, err := e.Parse(context.Background(), domain.RawPost{ID: "p3"})
		require.NoError(t, err)

		fc := res.Fields[domain.FieldEventType]
		assert.Equal(t, "meeting", fc.Value)
		assert.Equal(t, []domain.LayerID{domain.LayerC}, fc.AgreeingLayers)
		assert.ElementsMatch(t, []string{"rally", "protest"}, fc.ConflictingValues)
		assert.Equal(t, domain.AgreementNone, fc.Agreement)
		assert.InDelta(t, 0.5, fc.Confidence, 1e-9)
	})

	t.Run("falls back to the most confident layer", func(t *testing.T) {
		e := newEngine(t, Options{},
			withEventType(full(domain.LayerA, 0.7), "rally"),
			withEventType(full(domain.LayerB, 0.9), "protest"),
			withEventType(full(domain.LayerC, 1.0), ""))

		res, err := e.Parse(context.Background(), domain.RawPost{ID: "p4"})
		require.NoError(t, err)

		fc := res.Fields[domain.FieldEventType]
		assert.Equal(t, "protest", fc.Value)
		assert.Equal(t, []string{"rally"}, fc.ConflictingValues)
		assert.Equal(t, []domain.LayerID{domain.LayerB}, fc.AgreeingLayers)
	})
}

func TestParseSingleLayerPenalty(t *testing.T) {
	a := full(domain.LayerA, 0.9)
	a.res.Schemes = nil
	b := full(domain.LayerB, 0.9)
	b.res.Schemes = nil
	c := full(domain.LayerC, 0.8)

	e := newEngine(t, Options{}, a, b, c)
	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p5"})
	require.NoError(t, err)

	fc := res.Fields[domain.FieldSchemes]
	assert.Equal(t, []string{"PMAY"}, fc.Values)
	assert.Equal(t, []domain.LayerID{domain.LayerC}, fc.AgreeingLayers)
	assert.InDelta(t, 0.4, fc.Confidence, 1e-9)
	assert.LessOrEqual(t, fc.Confidence, 0.5*0.8)
	assert.Equal(t, domain.AgreementNone, fc.Agreement)
	assert.Equal(t, domain.AgreementNone, res.AgreementLevel)
}

func TestParseAllLayersTimeOut(t *testing.T) {
	slow := func(id domain.LayerID) *stubLayer {
		l := full(id, 1)
		l.delay = time.Minute
		return l
	}
	// layer A ignores cancellation and finishes after the deadline
	late := full(domain.LayerA, 1)
	late.delay = 150 * time.Millisecond
	late.ignoreAbort = true

	e := newEngine(t, Options{ParseTimeout: 30 * time.Millisecond}, late, slow(domain.LayerB), slow(domain.LayerC))

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p6"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.OverallScore)
	assert.Equal(t, domain.AgreementNone, res.AgreementLevel)
	require.Len(t, res.Fields, len(domain.TrackedFields))
	for _, f := range domain.TrackedFields {
		fc := res.Fields[f]
		assert.Empty(t, fc.AgreeingLayers, f)
		assert.Equal(t, 0.0, fc.Confidence, f)
		assert.Empty(t, fc.Values, f)
	}
	assert.Equal(t, domain.EventTypeOther, res.Fields[domain.FieldEventType].Value)
	for _, l := range res.Layers {
		assert.Equal(t, domain.KindLayerTimeout, l.Err, l.Layer)
	}
	assert.Empty(t, res.GeoHierarchy)

	// the late result must not leak into anything computed afterwards
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, res.Fields[domain.FieldLocations].Values)
}

func TestParseRateLimitedLayerIsAbsorbed(t *testing.T) {
	limiter := ratelimit.New(map[domain.LayerID]ratelimit.Policy{
		domain.LayerA: {RequestsPerMinute: 1, Burst: 1, BaseDelay: time.Millisecond, Multiplier: 2, MaxRetries: 0},
		domain.LayerB: {RequestsPerMinute: 600, Burst: 10, BaseDelay: time.Millisecond, Multiplier: 2, MaxRetries: 3},
		domain.LayerC: {RequestsPerMinute: 6000, Burst: 100, BaseDelay: time.Millisecond, Multiplier: 2, MaxRetries: 3},
	}, quietLogger)
	require.NoError(t, limiter.Acquire(context.Background(), domain.LayerA))

	answer := `{"event_type":"meeting","event_date":"2025-03-14","locations":["Raipur"],"people":["Vijay Sharma"],"organizations":[],"schemes":["PMAY"],"confidence":0.9}`
	a := extract.NewLLMLayer(domain.LayerA, &llm.Static{Response: answer}, limiter, time.Second)
	b := extract.NewLLMLayer(domain.LayerB, &llm.Static{Response: answer}, limiter, time.Second)
	c := extract.NewRuleLayer(nil, limiter, 0, time.Second, quietLogger)

	e := newEngine(t, Options{}, a, b, c)
	var observed []domain.ExtractionResult
	e.OnLayerResult = func(r domain.ExtractionResult) { observed = append(observed, r) }

	res, err := e.Parse(context.Background(), domain.RawPost{
		ID:        "p7",
		Text:      "श्री विजय शर्मा ने आज रायपुर वार्ड 5 में प्रधानमंत्री आवास योजना की समीक्षा बैठक ली",
		CreatedAt: postDate,
	})
	require.NoError(t, err)

	require.Len(t, res.Layers, 3)
	assert.Equal(t, domain.KindRateLimitExhausted, res.Layers[0].Err)
	assert.Empty(t, res.Layers[1].Err)
	assert.Empty(t, res.Layers[2].Err)
	require.Len(t, observed, 3)

	et := res.Fields[domain.FieldEventType]
	assert.Equal(t, "meeting", et.Value)
	assert.Equal(t, []domain.LayerID{domain.LayerB, domain.LayerC}, et.AgreeingLayers)
	assert.Equal(t, domain.AgreementMajority, et.Agreement)

	assert.Equal(t, "2025-03-14", res.Fields[domain.FieldEventDate].Value)
	assert.Equal(t, []string{"Raipur"}, res.Fields[domain.FieldLocations].Values)
	assert.Equal(t, []string{"PMAY"}, res.Fields[domain.FieldSchemes].Values)
	assert.Len(t, res.Fields[domain.FieldPeople].Values, 1)
	assert.Equal(t, []domain.LayerID{domain.LayerB, domain.LayerC}, res.Fields[domain.FieldPeople].AgreeingLayers)

	require.NotEmpty(t, res.GeoHierarchy)
	assert.Equal(t, "u-raipur", res.GeoHierarchy[0].EntryID)
}

func TestParseFuzzyListAlignment(t *testing.T) {
	a := full(domain.LayerA, 0.8)
	a.res.Locations = []string{"Kharaura", "Durg"}
	b := full(domain.LayerB, 0.6)
	b.res.Locations = []string{"Kharora"}
	c := full(domain.LayerC, 0.9)
	c.res.Locations = nil

	e := newEngine(t, Options{}, a, b, c)
	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p8"})
	require.NoError(t, err)

	fc := res.Fields[domain.FieldLocations]
	assert.Equal(t, []string{"Kharaura"}, fc.Values)
	assert.Equal(t, []string{"Durg"}, fc.ConflictingValues)
	assert.Equal(t, []domain.LayerID{domain.LayerA, domain.LayerB}, fc.AgreeingLayers)
	assert.InDelta(t, 0.7, fc.Confidence, 1e-9)
	assert.Equal(t, domain.AgreementMajority, fc.Agreement)

	require.Len(t, res.GeoHierarchy, 1)
	assert.Equal(t, "v-kharora", res.GeoHierarchy[0].EntryID)
	assert.Equal(t, domain.MatchFuzzy, res.GeoHierarchy[0].MatchKind)
}

func TestParseUnresolvedLocations(t *testing.T) {
	layers := []extract.Layer{full(domain.LayerA, 0.9), full(domain.LayerB, 0.9), full(domain.LayerC, 0.9)}
	for _, l := range layers {
		l.(*stubLayer).res.Locations = []string{"Atlantis", "Takhatpur", "Sonpur"}
	}
	e := newEngine(t, Options{}, layers...)

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p9", Text: "Sonpur, Atlantis and Takhatpur"})
	require.NoError(t, err)

	var unresolved []string
	for _, c := range res.Conflicts {
		if c.Kind == domain.KindAmbiguousLocationUnresolved {
			unresolved = append(unresolved, c.Value)
		}
	}
	assert.Equal(t, []string{"Atlantis"}, unresolved)
	assert.Equal(t, []string{"Atlantis", "Takhatpur", "Sonpur"}, res.Fields[domain.FieldLocations].Values)

	// Takhatpur in the text puts the Takhatpur Sonpur first
	require.Len(t, res.GeoHierarchy, 2)
	assert.Equal(t, "v-sonpur-takhatpur", res.GeoHierarchy[0].EntryID)
	assert.Equal(t, 1.0, res.GeoHierarchy[0].Confidence)
}

func TestParseWardStaysWithItsPlace(t *testing.T) {
	layers := []extract.Layer{full(domain.LayerA, 0.9), full(domain.LayerB, 0.9), full(domain.LayerC, 0.9)}
	for _, l := range layers {
		l.(*stubLayer).res.Locations = []string{"Raipur", "Bilaspur"}
	}
	e := newEngine(t, Options{}, layers...)

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p10", Text: "रायपुर वार्ड 5 में बैठक, बिलासपुर में रैली", CreatedAt: postDate})
	require.NoError(t, err)

	require.Len(t, res.GeoHierarchy, 2)
	assert.Equal(t, "u-raipur", res.GeoHierarchy[0].EntryID)
	require.NotNil(t, res.GeoHierarchy[0].WardNo)
	assert.Equal(t, 5, *res.GeoHierarchy[0].WardNo)
	assert.Equal(t, "u-bilaspur", res.GeoHierarchy[1].EntryID)
	assert.Nil(t, res.GeoHierarchy[1].WardNo)
}

func TestParseStrictMode(t *testing.T) {
	a := full(domain.LayerA, 0.4)
	b := withEventType(full(domain.LayerB, 0.4), "rally")
	c := &stubLayer{id: domain.LayerC, err: errors.New("boom")}

	e := newEngine(t, Options{Strict: true, AcceptanceThreshold: 0.6}, a, b, c)
	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p10"})
	require.NoError(t, err)

	assert.True(t, res.BelowThreshold)
	assert.Less(t, res.OverallScore, 0.6)
	assert.Equal(t, domain.KindLayerAPIError, res.Layers[2].Err)

	last := res.Conflicts[len(res.Conflicts)-1]
	assert.Equal(t, domain.KindConsensusBelowThreshold, last.Kind)

	lenient := newEngine(t, Options{AcceptanceThreshold: 0.6}, a, b, c)
	res, err = lenient.Parse(context.Background(), domain.RawPost{ID: "p10"})
	require.NoError(t, err)
	assert.False(t, res.BelowThreshold)
}

func TestParseWithoutReferenceData(t *testing.T) {
	src := staticSource{err: fmt.Errorf("%w: db down", domain.ErrReferenceDataUnavailable)}
	e := NewEngine(src, []extract.Layer{full(domain.LayerA, 1)}, nil, Options{}, quietLogger)

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p11"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrReferenceDataUnavailable)
}

func TestParseMissingLayer(t *testing.T) {
	e := newEngine(t, Options{}, full(domain.LayerA, 0.8), full(domain.LayerC, 0.8))

	res, err := e.Parse(context.Background(), domain.RawPost{ID: "p12"})
	require.NoError(t, err)

	assert.Equal(t, domain.KindLayerAPIError, res.Layers[1].Err)
	fc := res.Fields[domain.FieldEventType]
	assert.Equal(t, domain.AgreementMajority, fc.Agreement)
	assert.InDelta(t, 0.8, fc.Confidence, 1e-9)
}
