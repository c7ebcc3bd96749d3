// Package config provides configuration management for OrtiMarket.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
type Config struct {
	// OpenRouter settings
	OpenRouterAPIKey   string
	OpenRouterEndpoint string
	PreferredModel     string
	ReasoningEnabled   bool
	Referer            string

	// Storage settings. DataDir is resolved here, once; the stores never
	// read the environment themselves.
	DataDir string
	SeedDir string

	// Server settings
	HTTPAddr string
	Debug    bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterEndpoint: getEnv("OPENROUTER_ENDPOINT", "https://openrouter.ai/api/v1"),
		PreferredModel:     getEnv("OPENROUTER_MODEL", ""),
		ReasoningEnabled:   getEnv("OPENROUTER_REASONING", "off") == "on",
		Referer:            resolveReferer(),

		DataDir: resolveDataDir(),
		SeedDir: getEnv("SEED_DIR", "seed/imports"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Debug:    getEnvBool("DEBUG", false),
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.OpenRouterAPIKey == "" {
		log.Warn().Msg("OPENROUTER_API_KEY not set, market generation will fail")
	}
	return nil
}

// resolveDataDir picks the storage root: an explicit override wins, a
// serverless runtime gets the only writable location, anything else uses a
// local data directory.
func resolveDataDir() string {
	if configured := getEnv("ORTIMARKET_DATA_DIR", ""); configured != "" {
		if filepath.IsAbs(configured) {
			return configured
		}
		cwd, err := os.Getwd()
		if err != nil {
			return configured
		}
		return filepath.Join(cwd, configured)
	}

	serverless := os.Getenv("VERCEL") != "" ||
		os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" ||
		os.Getenv("LAMBDA_TASK_ROOT") != ""
	if serverless {
		return "/tmp/ortimarket-data"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "data"
	}
	return filepath.Join(cwd, "data")
}

func resolveReferer() string {
	if referer := getEnv("OPENROUTER_REFERER", ""); referer != "" {
		return referer
	}
	if vercelURL := os.Getenv("VERCEL_URL"); vercelURL != "" {
		return "https://" + vercelURL
	}
	return ""
}

// Helper functions

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
