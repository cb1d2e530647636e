package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/llm"
	"github.com/pbaille/govpulse/internal/ratelimit"
	"github.com/pbaille/govpulse/internal/refdata"
)

// LLMLayer backs layers A and B with a language model
type LLMLayer struct {
	id       domain.LayerID
	provider llm.Provider
	limiter  *ratelimit.Limiter
	timeout  time.Duration
}

// NewLLMLayer creates a model-backed layer. limiter may be nil.
func NewLLMLayer(id domain.LayerID, provider llm.Provider, limiter *ratelimit.Limiter, timeout time.Duration) *LLMLayer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMLayer{id: id, provider: provider, limiter: limiter, timeout: timeout}
}

func (l *LLMLayer) ID() domain.LayerID     { return l.id }
func (l *LLMLayer) Timeout() time.Duration { return l.timeout }

func (l *LLMLayer) Extract(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) (domain.ExtractionResult, error) {
	prompt := llm.BuildPrompt(post, hints(snap))

	var raw string
	call := func(ctx context.Context) error {
		var err error
		raw, err = l.provider.Call(ctx, prompt)
		return err
	}

	var err error
	if l.limiter != nil {
		err = l.limiter.Do(ctx, l.id, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("%s: %w", l.provider.Name(), err)
	}

	ex, err := llm.ParseExtraction(raw)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("%s: %w", l.provider.Name(), err)
	}

	res := domain.ExtractionResult{
		Layer:         l.id,
		EventType:     canonicalEventType(ex.EventType, snap),
		Locations:     dedupe(ex.Locations),
		People:        dedupePeople(ex.People),
		Organizations: dedupe(ex.Organizations),
		Schemes:       canonicalSchemes(ex.Schemes, snap),
		Confidence:    ex.Confidence,
	}
	if d, ok := NormalizeDate(ex.EventDate); ok {
		res.EventDate = d
	}
	return res, nil
}

func dedupePeople(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		cleaned = append(cleaned, cleanPerson(v))
	}
	return dedupe(cleaned)
}

func hints(snap *refdata.Snapshot) llm.Hints {
	var h llm.Hints
	if snap == nil {
		return h
	}
	for _, et := range snap.EventTypes {
		h.EventTypes = append(h.EventTypes, et.Code)
	}
	for _, sc := range snap.Schemes {
		h.Schemes = append(h.Schemes, sc.Name)
	}
	return h
}
