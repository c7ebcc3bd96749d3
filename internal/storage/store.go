// Package storage provides file-backed persistence for OrtiMarket imports
// and simulated bets. One JSON document per import, one raw-text file per
// import, one JSON document per user's bet history.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/models"
)

// importIDPattern is enforced before any filesystem path is derived from a
// caller-supplied id. This is the traversal guard: ids that fail the check
// never reach path construction.
var importIDPattern = regexp.MustCompile(`^[a-fA-F0-9-]{36}$`)

// ErrInvalidImportID is returned when an import id fails the UUID-shape
// check.
var ErrInvalidImportID = errors.New("storage: invalid importId format")

// IsValidImportID reports whether the id matches the UUID-shape pattern.
func IsValidImportID(importID string) bool {
	return importIDPattern.MatchString(importID)
}

// Config locates the on-disk data layout. It is resolved once by the
// hosting shell and passed in at construction, never read from the
// environment inside storage functions.
type Config struct {
	DataDir string
}

// Store persists imports and bets under a single data directory. Seed
// imports injected at construction behave like any other stored entry.
type Store struct {
	importsDir string
	rawDir     string
	betsDir    string
	seeds      []models.StoredImport
}

// NewStore creates the data directories and returns a store over them.
func NewStore(cfg Config, seeds []models.StoredImport) (*Store, error) {
	s := &Store{
		importsDir: filepath.Join(cfg.DataDir, "imports"),
		rawDir:     filepath.Join(cfg.DataDir, "raw"),
		betsDir:    filepath.Join(cfg.DataDir, "bets"),
		seeds:      seeds,
	}

	for _, dir := range []string{s.importsDir, s.rawDir, s.betsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("seeds", len(seeds)).
		Msg("File store initialized")
	return s, nil
}

func (s *Store) importJSONPath(importID string) (string, error) {
	if !importIDPattern.MatchString(importID) {
		return "", ErrInvalidImportID
	}
	return filepath.Join(s.importsDir, importID+".json"), nil
}

func (s *Store) rawTextPath(importID string) (string, error) {
	if !importIDPattern.MatchString(importID) {
		return "", ErrInvalidImportID
	}
	return filepath.Join(s.rawDir, importID+".txt"), nil
}

// SaveImportParams carries everything persisted for one upload event.
type SaveImportParams struct {
	ImportID         string
	FileName         string
	FileSize         int64
	Model            string
	ChatText         string
	Markets          []models.GeneratedMarketIdea
	ReasoningDetails []string
}

// SaveImportResult writes the raw chat text and the import document. The
// upload timestamp is set here, at save time.
func (s *Store) SaveImportResult(params SaveImportParams) (*models.StoredImport, error) {
	rawPath, err := s.rawTextPath(params.ImportID)
	if err != nil {
		return nil, err
	}
	jsonPath, err := s.importJSONPath(params.ImportID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("import_id", params.ImportID).
		Str("file_name", params.FileName).
		Int64("file_size", params.FileSize).
		Int("markets", len(params.Markets)).
		Msg("Saving import")

	if err := os.WriteFile(rawPath, []byte(params.ChatText), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write raw chat text: %w", err)
	}

	stored := &models.StoredImport{
		ImportID:         params.ImportID,
		UploadedAt:       time.Now().UTC(),
		FileName:         params.FileName,
		FileSize:         params.FileSize,
		Model:            params.Model,
		RawTextPath:      relativeToCwd(rawPath),
		Markets:          params.Markets,
		ReasoningDetails: params.ReasoningDetails,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode import: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write import: %w", err)
	}

	return stored, nil
}

// GetImportByID returns the stored import, or nil for an unknown or
// syntactically invalid id.
func (s *Store) GetImportByID(importID string) (*models.StoredImport, error) {
	if !importIDPattern.MatchString(importID) {
		return nil, nil
	}

	jsonPath, err := s.importJSONPath(importID)
	if err != nil {
		return nil, nil
	}

	if stored := readImportFile(jsonPath); stored != nil {
		return stored, nil
	}

	for i := range s.seeds {
		if s.seeds[i].ImportID == importID {
			seed := s.seeds[i]
			return &seed, nil
		}
	}
	return nil, nil
}

// GetLatestImport scans every persisted import plus the seeds and returns
// the one with the maximum upload timestamp, or nil when none exist.
// Equal timestamps keep directory-listing order.
func (s *Store) GetLatestImport() (*models.StoredImport, error) {
	entries, err := os.ReadDir(s.importsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}

	imports := make([]models.StoredImport, 0, len(entries)+len(s.seeds))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if stored := readImportFile(filepath.Join(s.importsDir, entry.Name())); stored != nil {
			imports = append(imports, *stored)
		}
	}
	imports = append(imports, s.seeds...)

	if len(imports) == 0 {
		return nil, nil
	}

	sort.SliceStable(imports, func(i, j int) bool {
		return imports[i].UploadedAt.After(imports[j].UploadedAt)
	})
	return &imports[0], nil
}

// GetMarketBySlug resolves the target import (by id, or latest when the id
// is empty) and linear-scans its markets for the slug. Returns nils when
// either lookup misses.
func (s *Store) GetMarketBySlug(slug, importID string) (*models.StoredImport, *models.GeneratedMarketIdea, error) {
	var (
		stored *models.StoredImport
		err    error
	)
	if importID != "" {
		stored, err = s.GetImportByID(importID)
	} else {
		stored, err = s.GetLatestImport()
	}
	if err != nil || stored == nil {
		return nil, nil, err
	}

	for i := range stored.Markets {
		if stored.Markets[i].Slug == slug {
			return stored, &stored.Markets[i], nil
		}
	}
	return nil, nil, nil
}

// readImportFile reads and normalizes one import document. Unreadable or
// malformed records are skipped, not fatal.
func readImportFile(path string) *models.StoredImport {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	stored := NormalizeImport(data)
	if stored == nil {
		log.Warn().Str("path", path).Msg("Skipping malformed import record")
	}
	return stored
}

// legacyImport tolerates every historical field layout an import document
// has used on disk.
type legacyImport struct {
	ImportID         string                       `json:"importId"`
	UploadedAt       string                       `json:"uploadedAt"`
	CreatedAt        string                       `json:"createdAt"`
	FileName         string                       `json:"fileName"`
	SourceFileName   string                       `json:"sourceFileName"`
	FileSize         *float64                     `json:"fileSize"`
	SourceFileSize   *float64                     `json:"sourceFileSize"`
	Model            string                       `json:"model"`
	ModelUsed        string                       `json:"modelUsed"`
	RawTextPath      string                       `json:"rawTextPath"`
	RawChatPath      string                       `json:"rawChatPath"`
	Markets          []models.GeneratedMarketIdea `json:"markets"`
	MarketIdeas      []models.GeneratedMarketIdea `json:"market_ideas"`
	ReasoningDetails []string                     `json:"reasoning_details"`
}

// NormalizeImport migrates a raw on-disk record to the canonical shape, so
// the rest of the system only ever sees the current layout. Returns nil
// when the record cannot be salvaged.
func NormalizeImport(data []byte) *models.StoredImport {
	var raw legacyImport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	markets := raw.Markets
	if markets == nil {
		markets = raw.MarketIdeas
	}
	if raw.ImportID == "" || markets == nil {
		return nil
	}

	uploadedAt := time.Now().UTC()
	for _, candidate := range []string{raw.UploadedAt, raw.CreatedAt} {
		if candidate == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, candidate); err == nil {
			uploadedAt = parsed
			break
		}
	}

	fileName := firstNonEmpty(raw.FileName, raw.SourceFileName, "upload.txt")
	model := firstNonEmpty(raw.Model, raw.ModelUsed, "unknown")
	rawTextPath := firstNonEmpty(raw.RawTextPath, raw.RawChatPath, "")

	var fileSize int64
	for _, candidate := range []*float64{raw.FileSize, raw.SourceFileSize} {
		if candidate != nil && *candidate >= 0 {
			fileSize = int64(*candidate)
			break
		}
	}

	return &models.StoredImport{
		ImportID:         raw.ImportID,
		UploadedAt:       uploadedAt,
		FileName:         fileName,
		FileSize:         fileSize,
		Model:            model,
		RawTextPath:      rawTextPath,
		Markets:          markets,
		ReasoningDetails: raw.ReasoningDetails,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func relativeToCwd(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || rel == "" || rel[0] == '.' && len(rel) > 1 && rel[1] == '.' {
		return path
	}
	return rel
}
