package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/types"
)

const jinaEndpoint = "https://s.jina.ai/"

// Jina calls the Jina search API. Descriptions come back in the
// response; page content is deliberately excluded so the visit action
// stays the only way to read a page.
type Jina struct {
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// NewJina creates a Jina provider.
func NewJina(apiKey string, client *http.Client, logger *zap.Logger) *Jina {
	return &Jina{apiKey: apiKey, client: httpOrDefault(client), logger: logger}
}

type jinaResponse struct {
	Code int `json:"code"`
	Data []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
	} `json:"data"`
}

// Search runs one query.
func (j *Jina) Search(ctx context.Context, query types.SERPQuery) ([]types.Snippet, error) {
	if j.apiKey == "" {
		return nil, fmt.Errorf("JINA_API_KEY not found")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"q": query.Q})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jinaEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)
	req.Header.Set("X-Respond-With", "no-content")

	resp, err := j.client.Do(req)
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

	var parsed jinaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]types.Snippet, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.URL == "" {
			continue
		}
		results = append(results, types.Snippet{
			Title:       d.Title,
			URL:         d.URL,
			Description: d.Description,
			Weight:      1,
		})
	}
	j.logger.Debug("jina search completed",
		zap.String("q", query.Q), zap.Int("results", len(results)))
	return results, nil
}
