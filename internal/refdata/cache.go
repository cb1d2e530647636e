// Package refdata serves versioned snapshots of schemes, event types and
// geography to the extraction pipeline.
package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pbaille/govpulse/internal/domain"
)

// Loader reads reference data from the backing store
type Loader interface {
	LoadSchemes(ctx context.Context) ([]domain.Scheme, error)
	LoadEventTypes(ctx context.Context) ([]domain.EventType, error)
	LoadGeographyIndex(ctx context.Context) ([]domain.GeographyEntry, error)
}

const (
	DefaultTTL         = 5 * time.Minute
	defaultRetryAfter  = 30 * time.Second
	defaultLoadTimeout = 30 * time.Second
)

// Cache holds the current snapshot and refreshes it once its TTL expires.
// Readers never block on each other; at most one refresh runs at a time.
type Cache struct {
	loader Loader
	ttl    time.Duration
	logger *slog.Logger

	current   atomic.Pointer[Snapshot]
	invalid   atomic.Bool
	group     singleflight.Group
	mu        sync.Mutex
	failedAt  time.Time
	lastError error

	// OnRefresh is called with every newly installed snapshot
	OnRefresh func(*Snapshot)
	// OnResult is called after every refresh attempt with "ok" or "error"
	OnResult func(result string)

	now func() time.Time
}

// NewCache creates a cache over loader. A non-positive ttl uses DefaultTTL.
func NewCache(loader Loader, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{loader: loader, ttl: ttl, logger: logger, now: time.Now}
}

// Snapshot returns a snapshot no older than the TTL when the store is
// reachable. If a refresh fails the previous snapshot is served; when no
// snapshot was ever loaded the call fails with ErrReferenceDataUnavailable.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	cur := c.current.Load()
	if cur != nil && !c.invalid.Load() && c.now().Sub(cur.LoadedAt) < c.ttl {
		return cur, nil
	}
	if cur != nil && c.recentlyFailed() {
		return cur, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		if cur != nil {
			c.logger.Warn("Reference data refresh failed, serving stale snapshot",
				"version", cur.Version, "age", c.now().Sub(cur.LoadedAt).Round(time.Second), "error", err)
			return cur, nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrReferenceDataUnavailable, err)
	}
	return v.(*Snapshot), nil
}

// Current returns the installed snapshot without triggering a refresh
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Invalidate forces the next read to refresh
func (c *Cache) Invalidate() {
	c.invalid.Store(true)
	c.mu.Lock()
	c.failedAt = time.Time{}
	c.mu.Unlock()
}

// Refresh loads a new snapshot immediately
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) recentlyFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.failedAt.IsZero() && c.now().Sub(c.failedAt) < defaultRetryAfter
}

func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	// The refresh is shared by every waiting reader, so one caller's
	// cancellation must not abort it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLoadTimeout)
	defer cancel()

	snap, err := c.load(ctx)
	if err != nil {
		c.mu.Lock()
		c.failedAt = c.now()
		c.lastError = err
		c.mu.Unlock()
		c.report("error")
		return nil, err
	}

	prev := c.current.Swap(snap)
	c.invalid.Store(false)
	c.mu.Lock()
	c.failedAt = time.Time{}
	c.lastError = nil
	c.mu.Unlock()
	c.report("ok")

	if prev == nil || prev.Version != snap.Version {
		c.logger.Info("Reference data loaded",
			"version", snap.Version[:12], "schemes", len(snap.Schemes),
			"event_types", len(snap.EventTypes), "geography", len(snap.Geography))
	}
	if c.OnRefresh != nil {
		c.OnRefresh(snap)
	}
	return snap, nil
}

func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	schemes, err := c.loader.LoadSchemes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schemes: %w", err)
	}
	events, err := c.loader.LoadEventTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load event types: %w", err)
	}
	geo, err := c.loader.LoadGeographyIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geography: %w", err)
	}
	return NewSnapshot(schemes, events, geo, c.now())
}

func (c *Cache) report(result string) {
	if c.OnResult != nil {
		c.OnResult(result)
	}
}

// LastError returns the error of the most recent failed refresh, if the
// cache has not recovered since
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
