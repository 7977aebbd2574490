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

const serperEndpoint = "https://google.serper.dev/search"

// Serper calls the Serper Google-search API. This is the only provider
// honoring all of the rewriter's hints (tbs, gl, hl, location).
type Serper struct {
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// NewSerper creates a Serper provider.
func NewSerper(apiKey string, client *http.Client, logger *zap.Logger) *Serper {
	return &Serper{apiKey: apiKey, client: httpOrDefault(client), logger: logger}
}

type serperRequest struct {
	Q        string `json:"q"`
	TBS      string `json:"tbs,omitempty"`
	GL       string `json:"gl,omitempty"`
	HL       string `json:"hl,omitempty"`
	Location string `json:"location,omitempty"`
	Num      int    `json:"num,omitempty"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs one query.
func (s *Serper) Search(ctx context.Context, query types.SERPQuery) ([]types.Snippet, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SERPER_API_KEY not found")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(serperRequest{
		Q:        query.Q,
		TBS:      query.TBS,
		GL:       query.GL,
		HL:       query.HL,
		Location: query.Location,
		Num:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
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

	var parsed serperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]types.Snippet, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		if r.Link == "" {
			continue
		}
		results = append(results, types.Snippet{
			Title:       r.Title,
			URL:         r.Link,
			Description: r.Snippet,
			Weight:      1,
		})
	}
	s.logger.Debug("serper search completed",
		zap.String("q", query.Q), zap.Int("results", len(results)))
	return results, nil
}
