package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("expected 60s TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Interest.HalfLife != 5*time.Minute {
		t.Errorf("expected 5m half-life, got %v", cfg.Interest.HalfLife)
	}
	if cfg.Prefetch.TopK != 5 || cfg.Prefetch.MaxConcurrent != 2 {
		t.Errorf("unexpected prefetch defaults: %+v", cfg.Prefetch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")

	path := writeConfig(t, `
listen: ":9090"
db_path: "test.db"
cache:
  ttl: 30s
interest:
  half_life: 10m
  weights:
    visit: 5
    reading_cap: 1m
prefetch:
  max_concurrent: 4
sources:
  ads:
    enabled: true
    addr: redis:6379
    password: ${TEST_REDIS_PASSWORD}
  rates:
    enabled: true
    url: https://rates.example.com/latest
media:
  from: https://storage.example.com/
  to: https://cdn.example.com/
routes:
  - key: home
    limit: 20
  - key: sport
    category: sports
    ttl: 15s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Sources.Ads.Password != "hunter2" {
		t.Errorf("env var not expanded: got %s", cfg.Sources.Ads.Password)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected 30s TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.FetchTimeout != 10*time.Second {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Cache.FetchTimeout)
	}
	if cfg.Interest.Weights.Visit != 5 || cfg.Interest.Weights.ReadingCap != time.Minute {
		t.Errorf("unexpected weights: %+v", cfg.Interest.Weights)
	}
	if cfg.Interest.Weights.Scroll != 4 {
		t.Errorf("expected default scroll weight, got %v", cfg.Interest.Weights.Scroll)
	}
	if cfg.Prefetch.MaxConcurrent != 4 || cfg.Prefetch.TopK != 5 {
		t.Errorf("unexpected prefetch config: %+v", cfg.Prefetch)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Routes))
	}
	if cfg.Routes[1].Category != "sports" || cfg.Routes[1].TTL != 15*time.Second {
		t.Errorf("unexpected route: %+v", cfg.Routes[1])
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero ttl":          "cache:\n  ttl: 0s\n",
		"rates without url": "sources:\n  rates:\n    enabled: true\n",
		"duplicate route":   "routes:\n  - key: a\n  - key: a\n",
		"empty route key":   "routes:\n  - category: x\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
