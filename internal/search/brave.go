package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/types"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave calls the Brave web search API.
type Brave struct {
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// NewBrave creates a Brave provider.
func NewBrave(apiKey string, client *http.Client, logger *zap.Logger) *Brave {
	return &Brave{apiKey: apiKey, client: httpOrDefault(client), logger: logger}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query.
func (b *Brave) Search(ctx context.Context, query types.SERPQuery) ([]types.Snippet, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("BRAVE_API_KEY not found")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", query.Q)
	if query.GL != "" {
		params.Set("country", query.GL)
	}
	if query.HL != "" {
		params.Set("search_lang", query.HL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]types.Snippet, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, types.Snippet{
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			Weight:      1,
		})
	}
	b.logger.Debug("brave search completed",
		zap.String("q", query.Q), zap.Int("results", len(results)))
	return results, nil
}
