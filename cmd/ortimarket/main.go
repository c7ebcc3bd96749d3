// OrtiMarket - prediction markets generated from your group chat.
// Serves the upload/generate/browse/trade API over a file-backed store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/api"
	"github.com/ortilabs/ortimarket/internal/config"
	"github.com/ortilabs/ortimarket/internal/llm"
	"github.com/ortilabs/ortimarket/internal/openrouter"
	"github.com/ortilabs/ortimarket/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("OrtiMarket - Starting backend")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Load seed imports and initialize storage
	seeds, err := storage.LoadSeedImports(cfg.SeedDir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load seed imports")
	}

	store, err := storage.NewStore(storage.Config{DataDir: cfg.DataDir}, seeds)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Initialize OpenRouter completion client
	llmClient := openrouter.NewClient(openrouter.Config{
		APIKey:    cfg.OpenRouterAPIKey,
		Endpoint:  cfg.OpenRouterEndpoint,
		Referer:   cfg.Referer,
		Reasoning: cfg.ReasoningEnabled,
	})

	// Initialize market generator
	generator := llm.NewGenerator(llmClient, llm.Options{
		PreferredModel: cfg.PreferredModel,
		Reasoning:      cfg.ReasoningEnabled,
	})
	log.Info().Strs("models", generator.Models()).Msg("Market generator initialized")

	// Probe the provider catalog so missing fallback candidates surface in
	// the logs at startup rather than mid-request.
	catalog := openrouter.NewCatalogClient(cfg.OpenRouterEndpoint)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		availability, err := catalog.CheckModels(ctx, generator.Models())
		if err != nil {
			log.Warn().Err(err).Msg("Model catalog probe failed")
			return
		}
		for model, listed := range availability {
			if !listed {
				log.Warn().Str("model", model).Msg("Candidate model not listed by provider")
			}
		}
	}()

	// Initialize API server
	handlers := api.NewHandlers(store, generator, catalog)
	apiServer := api.NewServer(handlers, cfg.HTTPAddr)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	log.Info().
		Str("api", cfg.HTTPAddr).
		Str("data_dir", cfg.DataDir).
		Msg("OrtiMarket backend running")

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)

	log.Info().Msg("OrtiMarket backend stopped")
}
