package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pbaille/govpulse/internal/config"
	"github.com/pbaille/govpulse/internal/consensus"
	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/embedding"
	"github.com/pbaille/govpulse/internal/extract"
	"github.com/pbaille/govpulse/internal/geo"
	"github.com/pbaille/govpulse/internal/llm"
	"github.com/pbaille/govpulse/internal/logging"
	"github.com/pbaille/govpulse/internal/metrics"
	"github.com/pbaille/govpulse/internal/ratelimit"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/store"
	"github.com/pbaille/govpulse/internal/textnorm"
)

const indexBuildTimeout = 2 * time.Minute

// app is the fully wired pipeline
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	cache    *refdata.Cache
	index    *embedding.Index
	limiter  *ratelimit.Limiter
	resolver *geo.Resolver
	engine   *consensus.Engine
	metrics  *metrics.Metrics
	closers  []func() error
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dbDSN != "" {
		cfg.Store.DSN = dbDSN
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	logger := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// newApp wires every component from configuration
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	embedder, err := a.newEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = embedding.NewIndex(embedder)

	a.cache = refdata.NewCache(a.store, cfg.Cache.TTL, logger)
	a.cache.OnRefresh = a.rebuildIndex

	a.limiter = ratelimit.New(ratelimit.PoliciesFromConfig(cfg.Limits), logger)

	layers := make([]extract.Layer, 0, len(domain.Layers))
	for _, id := range []domain.LayerID{domain.LayerA, domain.LayerB} {
		lc := cfg.Layers[string(id)]
		provider, err := llm.New(lc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("layer %s: %w", id, err)
		}
		layers = append(layers, extract.NewLLMLayer(id, provider, a.limiter, lc.Timeout))
	}
	layers = append(layers, extract.NewRuleLayer(a.index, a.limiter, cfg.Embedding.Threshold, cfg.Consensus.RuleLayerTimeout, logger))

	a.resolver = geo.NewResolver(a.cache, a.index, geo.Options{
		Fuzzy: textnorm.Thresholds{
			MaxEditDistance: cfg.Geo.MaxEditDistance,
			MinTokenOverlap: cfg.Geo.MinTokenOverlap,
			MinRunes:        textnorm.DefaultThresholds.MinRunes,
		},
		VectorThreshold: cfg.Geo.VectorThreshold,
		MaxCandidates:   cfg.Geo.MaxCandidates,
	}, logger)

	a.engine = consensus.NewEngine(a.cache, layers, a.resolver, consensus.OptionsFromConfig(cfg), logger)
	a.metrics.Instrument(a.engine, a.limiter, a.cache, a.resolver)
	return a, nil
}

func (a *app) newEmbedder(ctx context.Context) (embedding.Embedder, error) {
	ec := a.cfg.Embedding
	var inner embedding.Embedder
	switch ec.Provider {
	case "voyage":
		v, err := embedding.NewVoyage(ec.APIKeyEnv, ec.Model)
		if err != nil {
			return nil, fmt.Errorf("voyage embedder: %w", err)
		}
		inner = v
	default:
		inner = embedding.NewHash(ec.Dims)
	}

	if ec.RedisAddr == "" {
		return embedding.NewCached(inner, embedding.NewMemoryCache(), a.logger), nil
	}
	rc, err := embedding.NewRedisCache(ctx, ec.RedisAddr, ec.CacheTTL)
	if err != nil {
		a.logger.Warn("Redis unavailable, caching embeddings in memory", "addr", ec.RedisAddr, "error", err)
		return embedding.NewCached(inner, embedding.NewMemoryCache(), a.logger), nil
	}
	a.closers = append(a.closers, rc.Close)
	return embedding.NewCached(inner, rc, a.logger), nil
}

// rebuildIndex re-embeds the known entities whenever the snapshot changes
func (a *app) rebuildIndex(snap *refdata.Snapshot) {
	if a.index.Version() == snap.Version {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexBuildTimeout)
	defer cancel()

	start := time.Now()
	items := embedding.SnapshotItems(snap)
	if err := a.index.Build(ctx, items, snap.Version); err != nil {
		a.logger.Error("Vector index build failed", "version", snap.Version, "error", err)
		return
	}
	a.logger.Info("Vector index built", "items", len(items), "duration", time.Since(start))
}

// Close releases every resource in reverse order of acquisition
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
