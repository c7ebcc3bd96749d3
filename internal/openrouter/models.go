package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// CatalogClient queries the provider's public model catalog. It needs no
// credential and is used for startup diagnostics and health checks.
type CatalogClient struct {
	client *resty.Client
}

// ModelInfo is one entry of the provider catalog.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type catalogResponse struct {
	Data []ModelInfo `json:"data"`
}

// NewCatalogClient creates a catalog client for the given base endpoint.
func NewCatalogClient(endpoint string) *CatalogClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &CatalogClient{
		client: resty.New().
			SetBaseURL(endpoint).
			SetTimeout(15 * time.Second).
			SetRetryCount(2),
	}
}

// ListModels returns the models the provider currently serves.
func (c *CatalogClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/models")

	if err != nil {
		return nil, fmt.Errorf("model catalog request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("model catalog returned %d: %s", resp.StatusCode(), resp.String())
	}

	var result catalogResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog response: %w", err)
	}

	log.Debug().
		Int("models", len(result.Data)).
		Msg("Model catalog fetched")

	return result.Data, nil
}

// CheckModels reports, for each candidate identifier, whether the provider
// currently lists it.
func (c *CatalogClient) CheckModels(ctx context.Context, candidates []string) (map[string]bool, error) {
	catalog, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	listed := make(map[string]bool, len(catalog))
	for _, model := range catalog {
		listed[model.ID] = true
	}

	availability := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		availability[candidate] = listed[candidate]
	}
	return availability, nil
}
