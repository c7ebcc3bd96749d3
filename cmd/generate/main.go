// Package main provides an offline generation tool: read a WhatsApp export
// from disk, generate markets, and persist the import without the server.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/config"
	"github.com/ortilabs/ortimarket/internal/llm"
	"github.com/ortilabs/ortimarket/internal/openrouter"
	"github.com/ortilabs/ortimarket/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		inputPath = flag.String("file", "", "path to a WhatsApp .txt export (required)")
		model     = flag.String("model", "", "preferred model to try first")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall generation timeout")
	)
	flag.Parse()

	if *inputPath == "" {
		log.Fatal().Msg("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Str("file", *inputPath).Msg("Failed to read export")
	}

	store, err := storage.NewStore(storage.Config{DataDir: cfg.DataDir}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	client := openrouter.NewClient(openrouter.Config{
		APIKey:    cfg.OpenRouterAPIKey,
		Endpoint:  cfg.OpenRouterEndpoint,
		Referer:   cfg.Referer,
		Reasoning: cfg.ReasoningEnabled,
	})

	preferred := *model
	if preferred == "" {
		preferred = cfg.PreferredModel
	}
	generator := llm.NewGenerator(client, llm.Options{
		PreferredModel: preferred,
		Reasoning:      cfg.ReasoningEnabled,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := generator.GenerateFromChat(ctx, string(raw))
	if err != nil {
		log.Fatal().Err(err).Msg("Generation failed")
	}

	info, err := os.Stat(*inputPath)
	var fileSize int64
	if err == nil {
		fileSize = info.Size()
	}

	stored, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID:         uuid.NewString(),
		FileName:         filepath.Base(*inputPath),
		FileSize:         fileSize,
		Model:            result.ModelUsed,
		ChatText:         string(raw),
		Markets:          result.Response.MarketIdeas,
		ReasoningDetails: result.ReasoningDetails,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save import")
	}

	log.Info().
		Str("import_id", stored.ImportID).
		Str("model", stored.Model).
		Int("markets", len(stored.Markets)).
		Msg("Import saved")
}
