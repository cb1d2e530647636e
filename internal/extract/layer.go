// Package extract implements the three extraction layers and the wrapper
// that turns any layer failure into an error-flagged result.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
)

// DefaultTimeout bounds a single layer invocation
const DefaultTimeout = 15 * time.Second

// Layer extracts structured fields from a post
type Layer interface {
	ID() domain.LayerID
	Timeout() time.Duration
	Extract(ctx context.Context, post domain.RawPost, snap *refdata.Snapshot) (domain.ExtractionResult, error)
}

// Run invokes a layer under its timeout and never fails: errors, deadlines
// and panics all come back as a result with Err set and every field empty.
func Run(ctx context.Context, l Layer, post domain.RawPost, snap *refdata.Snapshot) (res domain.ExtractionResult) {
	start := time.Now()
	timeout := l.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = domain.Failed(l.ID(), domain.KindLayerAPIError, fmt.Sprintf("panic: %v", r))
		}
		res.Layer = l.ID()
		res.LatencyMs = time.Since(start).Milliseconds()
	}()

	out, err := l.Extract(ctx, post, snap)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindLayerAPIError && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = domain.KindLayerTimeout
		}
		return domain.Failed(l.ID(), kind, err.Error())
	}
	out.Confidence = clamp01(out.Confidence)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
