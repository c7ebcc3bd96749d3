package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/llm"
	"github.com/ortilabs/ortimarket/internal/models"
	"github.com/ortilabs/ortimarket/internal/storage"
)

const maxUploadBytes = 10 * 1024 * 1024

// MarketGenerator produces a validated market batch from chat text.
type MarketGenerator interface {
	GenerateFromChat(ctx context.Context, chatText string) (*llm.Result, error)
	Models() []string
}

// ModelChecker probes provider availability of candidate models.
type ModelChecker interface {
	CheckModels(ctx context.Context, candidates []string) (map[string]bool, error)
}

// Handlers holds the API handlers.
type Handlers struct {
	store     *storage.Store
	generator MarketGenerator
	catalog   ModelChecker
}

// NewHandlers creates new API handlers. catalog may be nil, in which case
// the health endpoint skips the provider probe.
func NewHandlers(store *storage.Store, generator MarketGenerator, catalog ModelChecker) *Handlers {
	return &Handlers{store: store, generator: generator, catalog: catalog}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func getLimit(r *http.Request, defaultLimit int) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

// isAllowedOrigin accepts only requests whose Origin header matches the
// request's own host. A missing Origin is forbidden.
func isAllowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return parsed.Host == r.Host
}

// requireSameOrigin guards mutating endpoints against cross-origin calls.
func requireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAllowedOrigin(r) {
			log.Warn().
				Str("origin", r.Header.Get("Origin")).
				Str("path", r.URL.Path).
				Msg("Forbidden origin")
			respondError(w, http.StatusForbidden, "Forbidden origin.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// IMPORT / GENERATION HANDLERS
// ============================================================================

// ImportWhatsApp accepts a multipart WhatsApp export upload, generates
// markets from it, and persists the import.
func (h *Handlers) ImportWhatsApp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 10MB.")
			return
		}
		respondError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	log.Info().
		Str("file_name", header.Filename).
		Int64("file_size", header.Size).
		Msg("Upload received")

	isTxt := strings.HasSuffix(strings.ToLower(header.Filename), ".txt") ||
		header.Header.Get("Content-Type") == "text/plain"
	if !isTxt {
		respondError(w, http.StatusBadRequest, "Please select a .txt WhatsApp export file.")
		return
	}

	if header.Size <= 0 {
		respondError(w, http.StatusBadRequest, "The uploaded file is empty.")
		return
	}
	if header.Size > maxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 10MB.")
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}

	chatText := string(raw)
	if strings.TrimSpace(chatText) == "" {
		respondError(w, http.StatusBadRequest, "The uploaded file is empty.")
		return
	}

	stored, err := h.generateAndStore(r.Context(), generateParams{
		importID: uuid.NewString(),
		fileName: header.Filename,
		fileSize: header.Size,
		chatText: chatText,
	})
	if err != nil {
		log.Error().Err(err).Msg("WhatsApp import failed")
		respondError(w, http.StatusInternalServerError, "Failed to import WhatsApp export.")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"importId":    stored.ImportID,
		"marketCount": len(stored.Markets),
	})
}

type generateMarketsRequest struct {
	ChatText       string `json:"chatText"`
	ImportID       string `json:"importId"`
	SourceFileName string `json:"sourceFileName"`
	SourceFileSize *int64 `json:"sourceFileSize"`
}

func (req *generateMarketsRequest) validate() bool {
	if req.ChatText == "" || len([]rune(req.ChatText)) > llm.MaxChatChars {
		return false
	}
	if req.ImportID != "" && !storage.IsValidImportID(req.ImportID) {
		return false
	}
	if req.SourceFileSize != nil && *req.SourceFileSize < 0 {
		return false
	}
	return true
}

// GenerateMarkets accepts raw chat text as JSON and runs the same
// generate-and-store pipeline as the upload endpoint.
func (h *Handlers) GenerateMarkets(w http.ResponseWriter, r *http.Request) {
	var req generateMarketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.validate() {
		respondError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	importID := req.ImportID
	if importID == "" {
		importID = uuid.NewString()
	}
	fileName := req.SourceFileName
	if fileName == "" {
		fileName = "manual-input.txt"
	}
	fileSize := int64(len(req.ChatText))
	if req.SourceFileSize != nil {
		fileSize = *req.SourceFileSize
	}

	stored, err := h.generateAndStore(r.Context(), generateParams{
		importID: importID,
		fileName: fileName,
		fileSize: fileSize,
		chatText: req.ChatText,
	})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyInput) {
			respondError(w, http.StatusBadRequest, "Invalid request payload.")
			return
		}
		log.Error().Err(err).Msg("Market generation failed")
		respondError(w, http.StatusInternalServerError, "Failed to generate markets.")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"importId":    stored.ImportID,
		"modelUsed":   stored.Model,
		"marketCount": len(stored.Markets),
	})
}

type generateParams struct {
	importID string
	fileName string
	fileSize int64
	chatText string
}

// generateAndStore runs generation and persists the result. Detailed causes
// stay in the server-side log; callers map failures to generic messages.
func (h *Handlers) generateAndStore(ctx context.Context, params generateParams) (*models.StoredImport, error) {
	startedAt := time.Now()
	result, err := h.generator.GenerateFromChat(ctx, params.chatText)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("import_id", params.importID).
		Str("model", result.ModelUsed).
		Int("markets", len(result.Response.MarketIdeas)).
		Dur("elapsed", time.Since(startedAt)).
		Msg("Generation done")

	return h.store.SaveImportResult(storage.SaveImportParams{
		ImportID:         params.importID,
		FileName:         params.fileName,
		FileSize:         params.fileSize,
		Model:            result.ModelUsed,
		ChatText:         params.chatText,
		Markets:          result.Response.MarketIdeas,
		ReasoningDetails: result.ReasoningDetails,
	})
}

// GetLatestImport returns the most recently uploaded import.
func (h *Handlers) GetLatestImport(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.GetLatestImport()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read latest import")
		respondError(w, http.StatusInternalServerError, "Failed to fetch import")
		return
	}
	if stored == nil {
		respondError(w, http.StatusNotFound, "No imports found")
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

// GetImportByID returns one stored import by id.
func (h *Handlers) GetImportByID(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importId")

	stored, err := h.store.GetImportByID(importID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read import")
		respondError(w, http.StatusInternalServerError, "Failed to fetch import")
		return
	}
	if stored == nil {
		respondError(w, http.StatusNotFound, "Import not found")
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

// ============================================================================
// MARKET HANDLERS
// ============================================================================

// GetMarkets returns the display markets of the resolved import (latest
// when no importId is given).
func (h *Handlers) GetMarkets(w http.ResponseWriter, r *http.Request) {
	importID := r.URL.Query().Get("importId")

	var (
		stored *models.StoredImport
		err    error
	)
	if importID != "" {
		stored, err = h.store.GetImportByID(importID)
	} else {
		stored, err = h.store.GetLatestImport()
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read import")
		respondError(w, http.StatusInternalServerError, "Failed to fetch markets")
		return
	}
	if stored == nil {
		respondError(w, http.StatusNotFound, "No imports found")
		return
	}

	markets := make([]models.DisplayMarket, 0, len(stored.Markets))
	for _, market := range stored.Markets {
		markets = append(markets, models.ToDisplayMarket(market, stored.UploadedAt))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"importId": stored.ImportID,
		"markets":  markets,
		"count":    len(markets),
	})
}

// GetMarketBySlug returns a single display market by slug.
func (h *Handlers) GetMarketBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		respondError(w, http.StatusBadRequest, "Slug is required")
		return
	}

	stored, market, err := h.store.GetMarketBySlug(slug, r.URL.Query().Get("importId"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read market")
		respondError(w, http.StatusInternalServerError, "Failed to fetch market")
		return
	}
	if market == nil {
		respondError(w, http.StatusNotFound, "Market not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"importId": stored.ImportID,
		"market":   models.ToDisplayMarket(*market, stored.UploadedAt),
	})
}

// ============================================================================
// BET HANDLERS
// ============================================================================

type placeBetRequest struct {
	Username   string  `json:"username"`
	ImportID   string  `json:"importId"`
	MarketSlug string  `json:"marketSlug"`
	Side       string  `json:"side"`
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
}

// PlaceBet records one simulated trade against a stored market.
func (h *Handlers) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	action := models.TradeAction(req.Action)
	if req.MarketSlug == "" || !action.IsValid() {
		respondError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	stored, market, err := h.store.GetMarketBySlug(req.MarketSlug, req.ImportID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve market for bet")
		respondError(w, http.StatusInternalServerError, "Failed to place bet")
		return
	}
	if market == nil {
		respondError(w, http.StatusNotFound, "Market not found")
		return
	}

	bet, err := h.store.SaveUserBet(storage.SaveBetParams{
		Username: req.Username,
		ImportID: stored.ImportID,
		Market:   *market,
		Side:     strings.TrimSpace(req.Side),
		Action:   action,
		Amount:   req.Amount,
		Price:    req.Price,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidUsername):
			respondError(w, http.StatusBadRequest, "Invalid username.")
		case errors.Is(err, storage.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "Invalid amount.")
		case errors.Is(err, storage.ErrInvalidPrice):
			respondError(w, http.StatusBadRequest, "Invalid price.")
		case errors.Is(err, storage.ErrInvalidImportID):
			respondError(w, http.StatusBadRequest, "Invalid importId.")
		default:
			log.Error().Err(err).Msg("Failed to save bet")
			respondError(w, http.StatusInternalServerError, "Failed to place bet")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":  true,
		"bet": bet,
	})
}

// GetUserBets returns a user's most recent bets.
func (h *Handlers) GetUserBets(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	limit := getLimit(r, 200)

	bets, err := h.store.GetUserBets(username, limit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidUsername) {
			respondError(w, http.StatusBadRequest, "Invalid username.")
			return
		}
		log.Error().Err(err).Msg("Failed to read bets")
		respondError(w, http.StatusInternalServerError, "Failed to fetch bets")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bets":  bets,
		"count": len(bets),
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthCheck returns service health, including provider model
// availability when a catalog client is configured.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "ortimarket",
	}

	if h.catalog != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		availability, err := h.catalog.CheckModels(ctx, h.generator.Models())
		if err != nil {
			body["provider"] = "unreachable"
		} else {
			body["provider"] = "ok"
			body["models"] = availability
		}
	}

	respondJSON(w, http.StatusOK, body)
}
