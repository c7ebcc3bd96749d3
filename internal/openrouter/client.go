// Package openrouter provides a client for the OpenRouter API.
// Uses the OpenAI-compatible endpoint for chat completions.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultEndpoint is the OpenRouter OpenAI-compatible base URL.
const DefaultEndpoint = "https://openrouter.ai/api/v1"

var (
	// ErrMissingAPIKey is returned when no credential is configured.
	ErrMissingAPIKey = errors.New("openrouter: OPENROUTER_API_KEY is missing")

	// ErrEmptyCompletion is returned when the provider response carries no
	// usable text.
	ErrEmptyCompletion = errors.New("openrouter: empty completion")
)

// Role constants for chat messages.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one role-tagged turn of a chat conversation.
type Message struct {
	Role      string
	Content   string
	Reasoning string
}

// CompletionRequest describes a single chat completion call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	JSONMode    bool
}

// Completion is the text of a model response plus an optional opaque
// reasoning trace.
type Completion struct {
	Content   string
	Reasoning string
}

// Client wraps the OpenAI SDK configured for OpenRouter. No retries happen
// at this layer; each Complete call is exactly one upstream request.
type Client struct {
	client *openai.Client
	apiKey string
}

// Config holds the configuration for the OpenRouter client.
type Config struct {
	APIKey   string
	Endpoint string
	Referer  string
	Title    string

	// Reasoning asks the provider to return reasoning traces alongside
	// each completion.
	Reasoning bool
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Title == "" {
		cfg.Title = "OrtiMarket"
	}

	var transport http.RoundTripper = &attributionTransport{
		referer: cfg.Referer,
		title:   cfg.Title,
		base:    http.DefaultTransport,
	}
	if cfg.Reasoning {
		transport = &reasoningTransport{base: transport}
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.Endpoint
	config.HTTPClient = &http.Client{Transport: transport}

	return &Client{
		client: openai.NewClientWithConfig(config),
		apiKey: cfg.APIKey,
	}
}

// Complete sends one chat completion request and returns the raw response
// text plus any reasoning trace the model produced.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:             msg.Role,
			Content:          msg.Content,
			ReasoningContent: msg.Reasoning,
		})
	}

	temperature := req.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature from the request body, which
		// would leave the provider default in effect instead.
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
	}

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(messages)).
		Bool("json_mode", req.JSONMode).
		Msg("Sending chat request to OpenRouter")

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	message := resp.Choices[0].Message
	if message.Content == "" {
		return nil, ErrEmptyCompletion
	}

	return &Completion{
		Content:   message.Content,
		Reasoning: message.ReasoningContent,
	}, nil
}

// attributionTransport adds the OpenRouter app attribution headers to every
// outgoing request.
type attributionTransport struct {
	referer string
	title   string
	base    http.RoundTripper
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	req.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(req)
}

// reasoningTransport enables OpenRouter reasoning traces. The SDK's request
// and response structs cannot carry the provider-specific fields, so the
// JSON bodies are rewritten in flight: outgoing completion requests gain the
// `reasoning` flag, and the response's `reasoning`/`reasoning_details` keys
// are surfaced under the wire key the SDK decodes.
type reasoningTransport struct {
	base http.RoundTripper
}

func (t *reasoningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/chat/completions") && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		if enabled, err := enableReasoning(body); err == nil {
			body = enabled
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if mapped, err := remapReasoningKeys(body); err == nil {
		body = mapped
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func enableReasoning(body []byte) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	flag, err := json.Marshal(map[string]bool{"enabled": true, "exclude": false})
	if err != nil {
		return nil, err
	}
	payload["reasoning"] = flag
	return json.Marshal(payload)
}

// remapReasoningKeys copies each choice's reasoning trace to the
// `reasoning_content` key. Messages that already carry one are left alone.
func remapReasoningKeys(body []byte) ([]byte, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	choicesRaw, ok := payload["choices"]
	if !ok {
		return body, nil
	}

	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(choicesRaw, &choices); err != nil {
		return nil, err
	}

	changed := false
	for _, choice := range choices {
		messageRaw, ok := choice["message"]
		if !ok {
			continue
		}
		var message map[string]json.RawMessage
		if err := json.Unmarshal(messageRaw, &message); err != nil {
			continue
		}
		if _, has := message["reasoning_content"]; has {
			continue
		}
		trace := extractReasoningTrace(message)
		if trace == "" {
			continue
		}
		encoded, err := json.Marshal(trace)
		if err != nil {
			continue
		}
		message["reasoning_content"] = encoded
		remarshaled, err := json.Marshal(message)
		if err != nil {
			continue
		}
		choice["message"] = remarshaled
		changed = true
	}
	if !changed {
		return body, nil
	}

	remarshaled, err := json.Marshal(choices)
	if err != nil {
		return nil, err
	}
	payload["choices"] = remarshaled
	return json.Marshal(payload)
}

// extractReasoningTrace reads the trace from a message: the `reasoning`
// string when present, otherwise the joined `reasoning_details` texts.
func extractReasoningTrace(message map[string]json.RawMessage) string {
	if raw, ok := message["reasoning"]; ok {
		var trace string
		if json.Unmarshal(raw, &trace) == nil && trace != "" {
			return trace
		}
	}

	raw, ok := message["reasoning_details"]
	if !ok {
		return ""
	}
	var details []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return ""
	}
	parts := make([]string, 0, len(details))
	for _, detail := range details {
		if detail.Text != "" {
			parts = append(parts, detail.Text)
		}
	}
	return strings.Join(parts, "\n")
}
