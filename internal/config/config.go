package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for govpulse
type Config struct {
	Store     StoreConfig                `yaml:"store"`
	Server    ServerConfig               `yaml:"server"`
	Log       LogConfig                  `yaml:"log"`
	Cache     CacheConfig                `yaml:"cache"`
	Layers    map[string]LayerConfig     `yaml:"layers"`      // keyed by layer id: A, B
	Limits    map[string]RateLimitConfig `yaml:"rate_limits"` // keyed by layer id: A, B, C
	Consensus ConsensusConfig            `yaml:"consensus"`
	Geo       GeoConfig                  `yaml:"geo"`
	Embedding EmbeddingConfig            `yaml:"embedding"`
}

// StoreConfig selects the persistent store
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite3 | postgres
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// CacheConfig controls the reference data snapshot
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LayerConfig configures one LLM-backed extraction layer
type LayerConfig struct {
	Provider    string        `yaml:"provider"` // anthropic | openai | static
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Static      string        `yaml:"static_response"` // used by provider "static"
}

// RateLimitConfig is the per-layer budget and backoff policy
type RateLimitConfig struct {
	RequestsPerMinute float64       `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	MaxRetries        int           `yaml:"max_retries"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

type ConsensusConfig struct {
	Strict              bool          `yaml:"strict"`
	AcceptanceThreshold float64       `yaml:"acceptance_threshold"`
	ParseMargin         time.Duration `yaml:"parse_margin"`
	RuleLayerTimeout    time.Duration `yaml:"rule_layer_timeout"`
}

type GeoConfig struct {
	MaxEditDistance int           `yaml:"max_edit_distance"`
	MinTokenOverlap float64       `yaml:"min_token_overlap"`
	VectorThreshold float64       `yaml:"vector_threshold"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
	PostBudget      time.Duration `yaml:"post_budget"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxCandidates   int           `yaml:"max_candidates"`
}

// EmbeddingConfig selects the embedding provider and its cache
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // voyage | hash
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Dims      int           `yaml:"dims"`
	RedisAddr string        `yaml:"redis_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	Threshold float64       `yaml:"threshold"`
}

// Default returns a configuration that runs without any external service
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite3", DSN: "govpulse.db"},
		Server: ServerConfig{Addr: ":8080", ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
		Cache:  CacheConfig{TTL: 5 * time.Minute},
		Layers: map[string]LayerConfig{
			"A": {Provider: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY", MaxTokens: 1024, Timeout: 15 * time.Second},
			"B": {Provider: "openai", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", MaxTokens: 1024, Timeout: 15 * time.Second},
		},
		Limits: map[string]RateLimitConfig{
			"A": DefaultLimit(30),
			"B": DefaultLimit(30),
			"C": DefaultLimit(6000),
		},
		Consensus: ConsensusConfig{AcceptanceThreshold: 0.6, ParseMargin: 2 * time.Second, RuleLayerTimeout: 15 * time.Second},
		Geo: GeoConfig{
			MaxEditDistance: 2,
			MinTokenOverlap: 0.8,
			VectorThreshold: 0.9,
			LookupTimeout:   100 * time.Millisecond,
			PostBudget:      300 * time.Millisecond,
			MaxConcurrent:   6,
			MaxCandidates:   5,
		},
		Embedding: EmbeddingConfig{Provider: "hash", Model: "voyage-3-lite", APIKeyEnv: "VOYAGE_API_KEY", Dims: 256, CacheTTL: 24 * time.Hour, Threshold: 0.82},
	}
}

// DefaultLimit is the backoff policy every layer starts from: base 5s,
// doubling, 10 retries.
func DefaultLimit(rpm float64) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: rpm,
		Burst:             max(1, int(rpm/10)),
		BaseDelay:         5 * time.Second,
		Multiplier:        2,
		MaxRetries:        10,
		MaxDelay:          5 * time.Minute,
	}
}

// Load reads path (optional), fills defaults and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.Driver = getEnv("GOVPULSE_DB_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("GOVPULSE_DB_DSN", c.Store.DSN)
	c.Server.Addr = getEnv("GOVPULSE_ADDR", c.Server.Addr)
	c.Embedding.RedisAddr = getEnv("GOVPULSE_REDIS_ADDR", c.Embedding.RedisAddr)
	c.Log.Level = getEnv("GOVPULSE_LOG_LEVEL", c.Log.Level)
	c.Consensus.Strict = getEnvBool("GOVPULSE_STRICT", c.Consensus.Strict)
	c.Cache.TTL = getEnvDuration("GOVPULSE_CACHE_TTL", c.Cache.TTL)
}

// fillDefaults patches zero values left by a partial YAML file
func (c *Config) fillDefaults() {
	def := Default()
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Consensus.ParseMargin <= 0 {
		c.Consensus.ParseMargin = def.Consensus.ParseMargin
	}
	if c.Consensus.RuleLayerTimeout <= 0 {
		c.Consensus.RuleLayerTimeout = def.Consensus.RuleLayerTimeout
	}
	for id, lc := range c.Layers {
		if lc.Timeout <= 0 {
			lc.Timeout = 15 * time.Second
		}
		if lc.MaxTokens <= 0 {
			lc.MaxTokens = 1024
		}
		c.Layers[id] = lc
	}
	if c.Limits == nil {
		c.Limits = map[string]RateLimitConfig{}
	}
	for id, dl := range def.Limits {
		l, ok := c.Limits[id]
		if !ok {
			c.Limits[id] = dl
			continue
		}
		if l.RequestsPerMinute <= 0 {
			l.RequestsPerMinute = dl.RequestsPerMinute
		}
		if l.Burst <= 0 {
			l.Burst = max(1, int(l.RequestsPerMinute/10))
		}
		if l.BaseDelay <= 0 {
			l.BaseDelay = dl.BaseDelay
		}
		if l.Multiplier < 1 {
			l.Multiplier = dl.Multiplier
		}
		if l.MaxRetries < 0 {
			l.MaxRetries = dl.MaxRetries
		}
		if l.MaxDelay <= 0 {
			l.MaxDelay = dl.MaxDelay
		}
		c.Limits[id] = l
	}
	if c.Geo.LookupTimeout <= 0 {
		c.Geo.LookupTimeout = def.Geo.LookupTimeout
	}
	if c.Geo.PostBudget <= 0 {
		c.Geo.PostBudget = def.Geo.PostBudget
	}
	if c.Geo.MaxConcurrent <= 0 {
		c.Geo.MaxConcurrent = def.Geo.MaxConcurrent
	}
	if c.Geo.MaxCandidates <= 0 {
		c.Geo.MaxCandidates = def.Geo.MaxCandidates
	}
	if c.Geo.MaxEditDistance <= 0 {
		c.Geo.MaxEditDistance = def.Geo.MaxEditDistance
	}
	if c.Geo.MinTokenOverlap <= 0 {
		c.Geo.MinTokenOverlap = def.Geo.MinTokenOverlap
	}
	if c.Embedding.Dims <= 0 {
		c.Embedding.Dims = def.Embedding.Dims
	}
	if c.Embedding.Threshold <= 0 {
		c.Embedding.Threshold = def.Embedding.Threshold
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store dsn is required")
	}
	for _, id := range []string{"A", "B"} {
		lc, ok := c.Layers[id]
		if !ok {
			return fmt.Errorf("layer %s is not configured", id)
		}
		switch lc.Provider {
		case "anthropic", "openai", "static":
		default:
			return fmt.Errorf("layer %s: unsupported provider %q", id, lc.Provider)
		}
	}
	if c.Consensus.AcceptanceThreshold < 0 || c.Consensus.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance threshold must be within [0,1]")
	}
	switch c.Embedding.Provider {
	case "voyage", "hash":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	return nil
}

// MaxLayerTimeout is the longest timeout any extraction layer may run for
func (c *Config) MaxLayerTimeout() time.Duration {
	longest := c.Consensus.RuleLayerTimeout
	for _, lc := range c.Layers {
		longest = max(longest, lc.Timeout)
	}
	return longest
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
