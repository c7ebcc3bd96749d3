package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/models"
	"github.com/ortilabs/ortimarket/internal/openrouter"
)

// DefaultModels is the ordered fallback list of candidate models. Each is
// tried in turn until one produces a valid batch.
var DefaultModels = []string{
	"stepfun/step-3.5-flash:free",
	"deepseek/deepseek-chat-v3-0324:free",
	"meta-llama/llama-3.3-70b-instruct:free",
}

const (
	firstPassTemperature  = 0.25
	repairPassTemperature = 0
)

// ErrEmptyInput is returned when the chat text is blank after trimming.
var ErrEmptyInput = errors.New("llm: chat text is empty")

// ModelFailure records the final error of one exhausted candidate model.
type ModelFailure struct {
	Model string
	Err   error
}

// ExhaustedError is returned when every candidate model failed to produce a
// valid batch, aggregating each model's last error.
type ExhaustedError struct {
	Failures []ModelFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		parts[i] = fmt.Sprintf("[%s] %v", failure.Model, failure.Err)
	}
	return "all candidate models failed: " + strings.Join(parts, "; ")
}

// CompletionClient performs a single chat completion request.
type CompletionClient interface {
	Complete(ctx context.Context, req openrouter.CompletionRequest) (*openrouter.Completion, error)
}

// Generator orchestrates prompt building, completion requests, JSON
// extraction, schema validation, one repair retry per model, and fallback
// across the candidate model list.
type Generator struct {
	client    CompletionClient
	models    []string
	reasoning bool
}

// Options configures a Generator.
type Options struct {
	// PreferredModel, when set, is tried before the default fallback list.
	PreferredModel string
	// Reasoning controls whether reasoning traces are collected and
	// returned alongside the result.
	Reasoning bool
}

// NewGenerator creates a market generator over the given completion client.
func NewGenerator(client CompletionClient, opts Options) *Generator {
	candidates := make([]string, 0, len(DefaultModels)+1)
	seen := make(map[string]bool, len(DefaultModels)+1)
	if opts.PreferredModel != "" {
		candidates = append(candidates, opts.PreferredModel)
		seen[opts.PreferredModel] = true
	}
	for _, model := range DefaultModels {
		if !seen[model] {
			candidates = append(candidates, model)
			seen[model] = true
		}
	}

	return &Generator{
		client:    client,
		models:    candidates,
		reasoning: opts.Reasoning,
	}
}

// Models returns the candidate list in attempt order.
func (g *Generator) Models() []string {
	out := make([]string, len(g.models))
	copy(out, g.models)
	return out
}

// Result is a validated batch plus the model that produced it.
type Result struct {
	ModelUsed        string
	Response         *models.MarketsResponse
	ReasoningDetails []string
}

// GenerateFromChat runs the full generation pipeline over the given chat
// text. Candidate models are tried sequentially; within one model the cost
// is bounded to two calls (first pass plus a single deterministic repair).
func (g *Generator) GenerateFromChat(ctx context.Context, chatText string) (*Result, error) {
	trimmed := strings.TrimSpace(chatText)
	if trimmed == "" {
		return nil, ErrEmptyInput
	}

	clipped := clipChat(trimmed)
	log.Info().
		Int("input_chars", len(chatText)).
		Int("clipped_chars", len(clipped)).
		Int("candidates", len(g.models)).
		Msg("Market generation started")

	baseMessages := []openrouter.Message{
		{Role: openrouter.RoleSystem, Content: systemPrompt},
		{Role: openrouter.RoleUser, Content: userPrompt(clipped, time.Now())},
	}

	var failures []ModelFailure
	for _, model := range g.models {
		startedAt := time.Now()
		result, err := g.tryModel(ctx, model, baseMessages)
		if err == nil {
			log.Info().
				Str("model", model).
				Int("markets", len(result.Response.MarketIdeas)).
				Dur("elapsed", time.Since(startedAt)).
				Msg("Market generation succeeded")
			return result, nil
		}

		if errors.Is(err, openrouter.ErrMissingAPIKey) {
			// No credential means every candidate would fail identically.
			return nil, err
		}

		log.Warn().
			Str("model", model).
			Err(err).
			Msg("Candidate model failed, falling back")
		failures = append(failures, ModelFailure{Model: model, Err: err})
	}

	return nil, &ExhaustedError{Failures: failures}
}

// tryModel runs the two-pass policy against one candidate: a moderate
// temperature first pass, then exactly one deterministic repair pass when
// the first output fails to parse or validate.
func (g *Generator) tryModel(ctx context.Context, model string, baseMessages []openrouter.Message) (*Result, error) {
	firstPass, err := g.client.Complete(ctx, openrouter.CompletionRequest{
		Model:       model,
		Messages:    baseMessages,
		Temperature: firstPassTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var reasoning []string
	if firstPass.Reasoning != "" {
		reasoning = append(reasoning, firstPass.Reasoning)
	}

	response, firstErr := parseAndValidate(firstPass.Content)
	if firstErr == nil {
		return g.result(model, response, reasoning), nil
	}

	log.Debug().
		Str("model", model).
		Err(firstErr).
		Msg("First pass invalid, requesting repair")

	repairMessages := append(append([]openrouter.Message{}, baseMessages...),
		openrouter.Message{
			Role:      openrouter.RoleAssistant,
			Content:   firstPass.Content,
			Reasoning: firstPass.Reasoning,
		},
		openrouter.Message{
			Role:    openrouter.RoleUser,
			Content: repairPrompt(firstPass.Content),
		},
	)

	repairedPass, err := g.client.Complete(ctx, openrouter.CompletionRequest{
		Model:       model,
		Messages:    repairMessages,
		Temperature: repairPassTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	if repairedPass.Reasoning != "" {
		reasoning = append(reasoning, repairedPass.Reasoning)
	}

	response, repairErr := parseAndValidate(repairedPass.Content)
	if repairErr != nil {
		return nil, fmt.Errorf("repair pass failed: %w", repairErr)
	}
	return g.result(model, response, reasoning), nil
}

func (g *Generator) result(model string, response *models.MarketsResponse, reasoning []string) *Result {
	result := &Result{ModelUsed: model, Response: response}
	if g.reasoning {
		result.ReasoningDetails = reasoning
	}
	return result
}

func parseAndValidate(content string) (*models.MarketsResponse, error) {
	data, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}
	return ValidateResponse(data)
}

// extractJSONObject parses completion text as JSON, recovering objects
// wrapped in prose by slicing between the first '{' and the last '}'.
func extractJSONObject(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		candidate := trimmed[first : last+1]
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}
