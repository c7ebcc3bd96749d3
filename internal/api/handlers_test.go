package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ortilabs/ortimarket/internal/llm"
	"github.com/ortilabs/ortimarket/internal/models"
	"github.com/ortilabs/ortimarket/internal/storage"
)

type stubGenerator struct {
	result *llm.Result
	err    error
	calls  int
}

func (s *stubGenerator) GenerateFromChat(_ context.Context, chatText string) (*llm.Result, error) {
	s.calls++
	if strings.TrimSpace(chatText) == "" {
		return nil, llm.ErrEmptyInput
	}
	return s.result, s.err
}

func (s *stubGenerator) Models() []string {
	return []string{"stub/model-a", "stub/model-b"}
}

type stubChecker struct {
	availability map[string]bool
	err          error
}

func (s *stubChecker) CheckModels(context.Context, []string) (map[string]bool, error) {
	return s.availability, s.err
}

func stubMarkets() []models.GeneratedMarketIdea {
	closeTime := "2026-09-05T20:00:00Z"
	return []models.GeneratedMarketIdea{{
		ID:                 "mkt-01",
		Slug:               "friday-dinner",
		Title:              "Will the group meet for dinner on Friday?",
		Description:        "Based on the chat.",
		Category:           models.CategoryPlans,
		MarketType:         models.MarketTypeYesNo,
		ResolutionCriteria: "Resolves YES if dinner happens.",
		CloseTimeGuess:     &closeTime,
		Outcomes: []models.Outcome{
			{Label: "Yes", InitialProbability: 0.7},
			{Label: "No", InitialProbability: 0.3},
		},
		Scores:   models.Scores{Creativity: 0.6, Clarity: 0.9, Evidence: 0.7, Fun: 0.8},
		Evidence: []models.Evidence{{Quote: "friday works for me"}},
	}}
}

func stubResult() *llm.Result {
	return &llm.Result{
		ModelUsed: "stub/model-a",
		Response:  &models.MarketsResponse{MarketIdeas: stubMarkets()},
	}
}

func newTestServer(t *testing.T, generator MarketGenerator, catalog ModelChecker) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(storage.Config{DataDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewServer(NewHandlers(store, generator, catalog), ":0"), store
}

func doRequest(t *testing.T, server *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

// multipartUpload builds a multipart body with one file part carrying the
// given filename, content type, and content.
func multipartUpload(t *testing.T, filename, contentType, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func uploadRequest(t *testing.T, filename, contentType, content string) *http.Request {
	t.Helper()
	body, formContentType := multipartUpload(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/api/import/whatsapp", body)
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Origin", "http://"+req.Host)
	return req
}

func TestImportWhatsAppSuccess(t *testing.T) {
	generator := &stubGenerator{result: stubResult()}
	server, store := newTestServer(t, generator, nil)

	rec := doRequest(t, server, uploadRequest(t, "chat.txt", "text/plain", "alice: friday works for me"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["marketCount"] != float64(1) {
		t.Errorf("marketCount = %v, want 1", body["marketCount"])
	}

	importID, _ := body["importId"].(string)
	stored, err := store.GetImportByID(importID)
	if err != nil || stored == nil {
		t.Fatalf("import %q was not persisted: %v", importID, err)
	}
	if stored.Model != "stub/model-a" {
		t.Errorf("stored model = %q", stored.Model)
	}
}

func TestImportWhatsAppRejectsNonTxt(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	rec := doRequest(t, server, uploadRequest(t, "chat.pdf", "application/pdf", "%PDF-1.4"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Please select a .txt WhatsApp export file." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestImportWhatsAppAcceptsTextPlainWithoutTxtSuffix(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	rec := doRequest(t, server, uploadRequest(t, "export", "text/plain", "bob: see you there"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestImportWhatsAppRejectsEmptyFile(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	rec := doRequest(t, server, uploadRequest(t, "chat.txt", "text/plain", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "The uploaded file is empty." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestImportWhatsAppRejectsWhitespaceOnlyFile(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	rec := doRequest(t, server, uploadRequest(t, "chat.txt", "text/plain", "  \n\t  "))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "The uploaded file is empty." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestImportWhatsAppRejectsOversizedFile(t *testing.T) {
	generator := &stubGenerator{result: stubResult()}
	server, _ := newTestServer(t, generator, nil)

	big := strings.Repeat("a", maxUploadBytes+1)
	rec := doRequest(t, server, uploadRequest(t, "chat.txt", "text/plain", big))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "File is too large. Maximum size is 10MB." {
		t.Errorf("error = %q", body["error"])
	}
	if generator.calls != 0 {
		t.Errorf("generator was called %d times for a rejected upload", generator.calls)
	}
}

func TestImportWhatsAppForbiddenWithoutOrigin(t *testing.T) {
	generator := &stubGenerator{result: stubResult()}
	server, _ := newTestServer(t, generator, nil)

	req := uploadRequest(t, "chat.txt", "text/plain", "alice: hi")
	req.Header.Del("Origin")
	rec := doRequest(t, server, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Forbidden origin." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestImportWhatsAppForbiddenCrossOrigin(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	req := uploadRequest(t, "chat.txt", "text/plain", "alice: hi")
	req.Header.Set("Origin", "http://evil.example.net")
	rec := doRequest(t, server, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestImportWhatsAppGenerationFailure(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{err: errors.New("all candidate models failed")}, nil)

	rec := doRequest(t, server, uploadRequest(t, "chat.txt", "text/plain", "alice: hi"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Failed to import WhatsApp export." {
		t.Errorf("error = %q", body["error"])
	}
}

func jsonRequest(t *testing.T, method, target string, payload interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://"+req.Host)
	return req
}

func TestGenerateMarketsSuccess(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	rec := doRequest(t, server, jsonRequest(t, http.MethodPost, "/api/llm/generate-markets", map[string]interface{}{
		"chatText": "alice: pizza friday?",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["modelUsed"] != "stub/model-a" {
		t.Errorf("modelUsed = %v", body["modelUsed"])
	}
}

func TestGenerateMarketsInvalidPayload(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{result: stubResult()}, nil)

	payloads := []interface{}{
		map[string]interface{}{},
		map[string]interface{}{"chatText": ""},
		map[string]interface{}{"chatText": "hi", "importId": "../etc"},
		map[string]interface{}{"chatText": "hi", "sourceFileSize": -1},
	}
	for _, payload := range payloads {
		rec := doRequest(t, server, jsonRequest(t, http.MethodPost, "/api/llm/generate-markets", payload))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %v: status = %d, want 400", payload, rec.Code)
			continue
		}
		if body := decodeBody(t, rec); body["error"] != "Invalid request payload." {
			t.Errorf("payload %v: error = %q", payload, body["error"])
		}
	}
}

func TestGenerateMarketsFailure(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{err: errors.New("exhausted")}, nil)

	rec := doRequest(t, server, jsonRequest(t, http.MethodPost, "/api/llm/generate-markets", map[string]interface{}{
		"chatText": "alice: hello",
	}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Failed to generate markets." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestGetLatestImportNotFound(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, nil)

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/imports/latest", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetImportByID(t *testing.T) {
	server, store := newTestServer(t, &stubGenerator{}, nil)

	importID := uuid.NewString()
	if _, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID: importID,
		FileName: "chat.txt",
		ChatText: "text",
		Markets:  stubMarkets(),
	}); err != nil {
		t.Fatalf("SaveImportResult() error = %v", err)
	}

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/imports/"+importID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["importId"] != importID {
		t.Errorf("importId = %v, want %s", body["importId"], importID)
	}

	rec = doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/imports/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestGetMarkets(t *testing.T) {
	server, store := newTestServer(t, &stubGenerator{}, nil)

	if _, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID: uuid.NewString(),
		FileName: "chat.txt",
		ChatText: "text",
		Markets:  stubMarkets(),
	}); err != nil {
		t.Fatalf("SaveImportResult() error = %v", err)
	}

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/markets/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	markets, _ := body["markets"].([]interface{})
	if len(markets) != 1 {
		t.Fatalf("markets = %v", body["markets"])
	}
	first, _ := markets[0].(map[string]interface{})
	if first["slug"] != "friday-dinner" || first["yesPrice"] != 0.7 {
		t.Errorf("display market = %v", first)
	}
}

func TestGetMarketBySlug(t *testing.T) {
	server, store := newTestServer(t, &stubGenerator{}, nil)

	if _, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID: uuid.NewString(),
		FileName: "chat.txt",
		ChatText: "text",
		Markets:  stubMarkets(),
	}); err != nil {
		t.Fatalf("SaveImportResult() error = %v", err)
	}

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/markets/friday-dinner", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/markets/no-such-market", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slug status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Market not found" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestPlaceBet(t *testing.T) {
	server, store := newTestServer(t, &stubGenerator{}, nil)

	importID := uuid.NewString()
	if _, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID: importID,
		FileName: "chat.txt",
		ChatText: "text",
		Markets:  stubMarkets(),
	}); err != nil {
		t.Fatalf("SaveImportResult() error = %v", err)
	}

	rec := doRequest(t, server, jsonRequest(t, http.MethodPost, "/api/bets/", map[string]interface{}{
		"username":   "alice",
		"importId":   importID,
		"marketSlug": "friday-dinner",
		"side":       "Yes",
		"action":     "BUY",
		"amount":     100,
		"price":      0.25,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	bet, _ := body["bet"].(map[string]interface{})
	if bet["estimatedPayout"] != float64(400) {
		t.Errorf("estimatedPayout = %v, want 400", bet["estimatedPayout"])
	}
	if bet["impliedProbability"] != float64(25) {
		t.Errorf("impliedProbability = %v, want 25", bet["impliedProbability"])
	}

	bets, err := store.GetUserBets("alice", 0)
	if err != nil || len(bets) != 1 {
		t.Fatalf("GetUserBets() = %v, %v", bets, err)
	}
}

func TestPlaceBetValidationErrors(t *testing.T) {
	server, store := newTestServer(t, &stubGenerator{}, nil)

	importID := uuid.NewString()
	if _, err := store.SaveImportResult(storage.SaveImportParams{
		ImportID: importID,
		FileName: "chat.txt",
		ChatText: "text",
		Markets:  stubMarkets(),
	}); err != nil {
		t.Fatalf("SaveImportResult() error = %v", err)
	}

	base := func() map[string]interface{} {
		return map[string]interface{}{
			"username":   "alice",
			"importId":   importID,
			"marketSlug": "friday-dinner",
			"side":       "Yes",
			"action":     "BUY",
			"amount":     100,
			"price":      0.25,
		}
	}

	tests := []struct {
		name      string
		mutate    func(map[string]interface{})
		wantCode  int
		wantError string
	}{
		{"bad username", func(m map[string]interface{}) { m["username"] = "x" }, http.StatusBadRequest, "Invalid username."},
		{"bad amount", func(m map[string]interface{}) { m["amount"] = -1 }, http.StatusBadRequest, "Invalid amount."},
		{"bad price", func(m map[string]interface{}) { m["price"] = 1.5 }, http.StatusBadRequest, "Invalid price."},
		{"bad action", func(m map[string]interface{}) { m["action"] = "HOLD" }, http.StatusBadRequest, "Invalid request payload."},
		{"unknown market", func(m map[string]interface{}) { m["marketSlug"] = "nope" }, http.StatusNotFound, "Market not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base()
			tt.mutate(payload)
			rec := doRequest(t, server, jsonRequest(t, http.MethodPost, "/api/bets/", payload))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body := decodeBody(t, rec); body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestPlaceBetForbiddenWithoutOrigin(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, nil)

	req := jsonRequest(t, http.MethodPost, "/api/bets/", map[string]interface{}{})
	req.Header.Del("Origin")
	rec := doRequest(t, server, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestGetUserBetsInvalidUsernameRejected(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, nil)

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/bets/x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Invalid username." {
		t.Errorf("error = %q", body["error"])
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("without catalog", func(t *testing.T) {
		server, _ := newTestServer(t, &stubGenerator{}, nil)
		rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "healthy" || body["service"] != "ortimarket" {
			t.Errorf("body = %v", body)
		}
		if _, present := body["provider"]; present {
			t.Error("provider should be absent without a catalog client")
		}
	})

	t.Run("with catalog", func(t *testing.T) {
		checker := &stubChecker{availability: map[string]bool{"stub/model-a": true, "stub/model-b": false}}
		server, _ := newTestServer(t, &stubGenerator{}, checker)
		rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		body := decodeBody(t, rec)
		if body["provider"] != "ok" {
			t.Errorf("provider = %v, want ok", body["provider"])
		}
	})

	t.Run("catalog unreachable", func(t *testing.T) {
		server, _ := newTestServer(t, &stubGenerator{}, &stubChecker{err: errors.New("timeout")})
		rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		body := decodeBody(t, rec)
		if body["provider"] != "unreachable" {
			t.Errorf("provider = %v, want unreachable", body["provider"])
		}
	})
}

func TestResponseSecurityHeaders(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, nil)

	rec := doRequest(t, server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
