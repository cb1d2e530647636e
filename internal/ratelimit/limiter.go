// Package ratelimit keeps every extraction layer inside its request budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pbaille/govpulse/internal/config"
	"github.com/pbaille/govpulse/internal/domain"
)

// Policy is the budget and backoff schedule of one layer
type Policy struct {
	RequestsPerMinute float64
	Burst             int
	BaseDelay         time.Duration
	Multiplier        float64
	MaxRetries        int
	MaxDelay          time.Duration
}

// PolicyFromConfig converts a config block into a Policy
func PolicyFromConfig(c config.RateLimitConfig) Policy {
	return Policy{
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
		BaseDelay:         c.BaseDelay,
		Multiplier:        c.Multiplier,
		MaxRetries:        c.MaxRetries,
		MaxDelay:          c.MaxDelay,
	}
}

// PoliciesFromConfig keys the configured limits by layer
func PoliciesFromConfig(limits map[string]config.RateLimitConfig) map[domain.LayerID]Policy {
	out := make(map[domain.LayerID]Policy, len(limits))
	for id, c := range limits {
		out[domain.LayerID(id)] = PolicyFromConfig(c)
	}
	return out
}

// Backoff is the wait before retry number attempt (zero based):
// BaseDelay × Multiplier^attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

type bucket struct {
	policy  Policy
	limiter *rate.Limiter
}

// Limiter is a registry of per-layer token buckets
type Limiter struct {
	mu      sync.RWMutex
	buckets map[domain.LayerID]*bucket

	// OnWait, when set, is called before every backoff sleep
	OnWait func(layer domain.LayerID, d time.Duration)

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with one bucket per layer policy
func New(policies map[domain.LayerID]Policy, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		buckets: make(map[domain.LayerID]*bucket, len(policies)),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for layer, p := range policies {
		l.SetPolicy(layer, p)
	}
	return l
}

// SetPolicy installs or replaces the bucket of a layer
func (l *Limiter) SetPolicy(layer domain.LayerID, p Policy) {
	burst := max(1, p.Burst)
	b := &bucket{
		policy:  p,
		limiter: rate.NewLimiter(rate.Limit(p.RequestsPerMinute/60), burst),
	}
	l.mu.Lock()
	l.buckets[layer] = b
	l.mu.Unlock()
}

// Policy returns the policy of a layer
func (l *Limiter) Policy(layer domain.LayerID) (Policy, bool) {
	b, ok := l.bucket(layer)
	if !ok {
		return Policy{}, false
	}
	return b.policy, true
}

func (l *Limiter) bucket(layer domain.LayerID) (*bucket, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.buckets[layer]
	return b, ok
}

// Acquire takes one token for layer, backing off while the bucket is empty.
// It fails with domain.ErrRateLimitExhausted once MaxRetries waits have
// passed without a token, or as soon as the next wait would run past the
// context deadline.
func (l *Limiter) Acquire(ctx context.Context, layer domain.LayerID) error {
	b, ok := l.bucket(layer)
	if !ok {
		return fmt.Errorf("ratelimit: unknown layer %s", layer)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("acquire layer %s: %w", layer, err)
		}
		if b.limiter.AllowN(l.now(), 1) {
			return nil
		}
		if attempt >= b.policy.MaxRetries {
			l.logger.Warn("Rate limit retries exhausted", "layer", layer, "attempts", attempt+1)
			return fmt.Errorf("layer %s: %w", layer, domain.ErrRateLimitExhausted)
		}
		d := b.policy.Backoff(attempt)
		if l.outlasts(ctx, d) {
			l.logger.Warn("Rate limit wait would outlast the deadline", "layer", layer, "attempts", attempt+1, "backoff", d)
			return fmt.Errorf("layer %s: %w", layer, domain.ErrRateLimitExhausted)
		}
		if err := l.wait(ctx, layer, d); err != nil {
			return fmt.Errorf("acquire layer %s: %w", layer, err)
		}
	}
}

// Do acquires a token and calls fn, retrying failures marked with
// domain.Retryable on the same backoff schedule.
func (l *Limiter) Do(ctx context.Context, layer domain.LayerID, fn func(context.Context) error) error {
	b, ok := l.bucket(layer)
	if !ok {
		return fmt.Errorf("ratelimit: unknown layer %s", layer)
	}

	for attempt := 0; ; attempt++ {
		if err := l.Acquire(ctx, layer); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		d := b.policy.Backoff(attempt)
		if attempt >= b.policy.MaxRetries || l.outlasts(ctx, d) {
			return err
		}
		l.logger.Debug("Retrying layer call", "layer", layer, "attempt", attempt+1, "error", err)
		if werr := l.wait(ctx, layer, d); werr != nil {
			return fmt.Errorf("retry layer %s: %w", layer, werr)
		}
	}
}

// outlasts reports whether sleeping d would pass the deadline of ctx
func (l *Limiter) outlasts(ctx context.Context, d time.Duration) bool {
	dl, ok := ctx.Deadline()
	return ok && l.now().Add(d).After(dl)
}

func (l *Limiter) wait(ctx context.Context, layer domain.LayerID, d time.Duration) error {
	if l.OnWait != nil {
		l.OnWait(layer, d)
	}
	return l.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
