package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitrine-media/vitrine/pkg/interest"
)

// Config holds all vitrine configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	DBPath   string         `yaml:"db_path"`
	Cache    CacheConfig    `yaml:"cache"`
	Interest InterestConfig `yaml:"interest"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Recorder RecorderConfig `yaml:"recorder"`
	Sources  SourcesConfig  `yaml:"sources"`
	Media    MediaConfig    `yaml:"media"`
	Routes   []RouteConfig  `yaml:"routes"`
}

// CacheConfig controls the snapshot cache.
type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// Entries expired for longer than SweepGrace are dropped every
	// SweepInterval. Zero disables sweeping.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepGrace    time.Duration `yaml:"sweep_grace"`
}

// InterestConfig tunes the interest model.
type InterestConfig struct {
	HalfLife   time.Duration    `yaml:"half_life"`
	PruneBelow float64          `yaml:"prune_below"`
	Weights    interest.Weights `yaml:"weights"`
}

// PrefetchConfig controls the prefetch scheduler.
type PrefetchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	TopK          int           `yaml:"top_k"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// RecorderConfig sizes the event history.
type RecorderConfig struct {
	BufferSize           int           `yaml:"buffer_size"`
	ScrollSampleInterval time.Duration `yaml:"scroll_sample_interval"`
}

// SourcesConfig configures the collaborators a snapshot is assembled from.
// Timeout bounds each individual sub-fetch.
type SourcesConfig struct {
	Timeout  time.Duration  `yaml:"timeout"`
	Articles ArticlesConfig `yaml:"articles"`
	Ads      AdsConfig      `yaml:"ads"`
	Rates    RatesConfig    `yaml:"rates"`
}

// ArticlesConfig controls the article source.
type ArticlesConfig struct {
	Limit int `yaml:"limit"`
}

// AdsConfig points at the Redis instance holding ad slots.
type AdsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RatesConfig points at the currency rate feed.
type RatesConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
}

// MediaConfig rewrites image references from the storage host to the
// delivery host. An empty From disables rewriting.
type MediaConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// RouteConfig names a cache key and the article query behind it. Limit and
// TTL override the defaults when set.
type RouteConfig struct {
	Key      string        `yaml:"key"`
	Category string        `yaml:"category"`
	Tag      string        `yaml:"tag"`
	Limit    int           `yaml:"limit"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "vitrine.db",
		Cache: CacheConfig{
			TTL:           60 * time.Second,
			FetchTimeout:  10 * time.Second,
			SweepInterval: 5 * time.Minute,
			SweepGrace:    30 * time.Minute,
		},
		Interest: InterestConfig{
			HalfLife:   interest.DefaultHalfLife,
			PruneBelow: interest.DefaultPruneBelow,
			Weights:    interest.DefaultWeights(),
		},
		Prefetch: PrefetchConfig{
			Enabled:       true,
			Interval:      15 * time.Second,
			TopK:          5,
			MaxConcurrent: 2,
		},
		Recorder: RecorderConfig{
			BufferSize:           256,
			ScrollSampleInterval: time.Second,
		},
		Sources: SourcesConfig{
			Timeout:  5 * time.Second,
			Articles: ArticlesConfig{Limit: 15},
			Ads: AdsConfig{
				Addr:   "localhost:6379",
				Prefix: "vitrine:ads:",
			},
			Rates: RatesConfig{
				TTL: 10 * time.Minute,
			},
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Cache.TTL <= 0:
		return fmt.Errorf("cache.ttl must be positive")
	case c.Interest.HalfLife <= 0:
		return fmt.Errorf("interest.half_life must be positive")
	case c.Prefetch.Enabled && c.Prefetch.Interval <= 0:
		return fmt.Errorf("prefetch.interval must be positive")
	case c.Prefetch.Enabled && (c.Prefetch.TopK <= 0 || c.Prefetch.MaxConcurrent <= 0):
		return fmt.Errorf("prefetch.top_k and prefetch.max_concurrent must be positive")
	case c.Sources.Rates.Enabled && c.Sources.Rates.URL == "":
		return fmt.Errorf("sources.rates.url is required when rates are enabled")
	}
	seen := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if r.Key == "" {
			return fmt.Errorf("route with empty key")
		}
		if seen[r.Key] {
			return fmt.Errorf("route %q defined twice", r.Key)
		}
		seen[r.Key] = true
	}
	return nil
}
