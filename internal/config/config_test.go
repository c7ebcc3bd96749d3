package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"OPENROUTER_API_KEY", "OPENROUTER_ENDPOINT", "OPENROUTER_MODEL",
		"OPENROUTER_REASONING", "OPENROUTER_REFERER", "ORTIMARKET_DATA_DIR",
		"SEED_DIR", "HTTP_ADDR", "DEBUG", "VERCEL", "VERCEL_URL",
		"AWS_LAMBDA_FUNCTION_NAME", "LAMBDA_TASK_ROOT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenRouterEndpoint != "https://openrouter.ai/api/v1" {
		t.Errorf("OpenRouterEndpoint = %q", cfg.OpenRouterEndpoint)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SeedDir != "seed/imports" {
		t.Errorf("SeedDir = %q", cfg.SeedDir)
	}
	if cfg.ReasoningEnabled {
		t.Error("ReasoningEnabled should default to off")
	}
	if !filepath.IsAbs(cfg.DataDir) {
		t.Errorf("DataDir = %q, want an absolute path", cfg.DataDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_MODEL", "openai/gpt-4o-mini")
	t.Setenv("OPENROUTER_REASONING", "on")
	t.Setenv("ORTIMARKET_DATA_DIR", "/var/lib/ortimarket")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenRouterAPIKey != "sk-test" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.OpenRouterAPIKey)
	}
	if cfg.PreferredModel != "openai/gpt-4o-mini" {
		t.Errorf("PreferredModel = %q", cfg.PreferredModel)
	}
	if !cfg.ReasoningEnabled {
		t.Error("ReasoningEnabled should be on")
	}
	if cfg.DataDir != "/var/lib/ortimarket" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestResolveDataDirServerless(t *testing.T) {
	t.Setenv("ORTIMARKET_DATA_DIR", "")
	t.Setenv("VERCEL", "1")

	if dir := resolveDataDir(); dir != "/tmp/ortimarket-data" {
		t.Errorf("resolveDataDir() = %q, want /tmp/ortimarket-data", dir)
	}
}

func TestResolveReferer(t *testing.T) {
	t.Setenv("OPENROUTER_REFERER", "")
	t.Setenv("VERCEL_URL", "ortimarket.vercel.app")
	if got := resolveReferer(); got != "https://ortimarket.vercel.app" {
		t.Errorf("resolveReferer() = %q", got)
	}

	t.Setenv("OPENROUTER_REFERER", "https://example.com")
	if got := resolveReferer(); got != "https://example.com" {
		t.Errorf("resolveReferer() = %q", got)
	}
}
