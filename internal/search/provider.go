// Package search implements the web-search providers. Every provider
// normalizes its results into types.Snippet so the query pipeline and
// the URL pool never see provider-specific shapes.
package search

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"deepresearch/internal/config"
	"deepresearch/internal/types"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Provider executes one search request.
type Provider interface {
	Search(ctx context.Context, query types.SERPQuery) ([]types.Snippet, error)
}

// New builds the provider selected by the configuration. An unknown
// provider name is a configuration error.
func New(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	client := cfg.HTTPClient()
	switch cfg.SearchProvider {
	case config.SearchDuck:
		return NewDuck(client, logger), nil
	case config.SearchJina:
		return NewJina(cfg.Env("JINA_API_KEY"), client, logger), nil
	case config.SearchBrave:
		return NewBrave(cfg.Env("BRAVE_API_KEY"), client, logger), nil
	case config.SearchSerper:
		return NewSerper(cfg.Env("SERPER_API_KEY"), client, logger), nil
	default:
		return nil, fmt.Errorf("invalid search provider: %q", cfg.SearchProvider)
	}
}

func httpOrDefault(client *http.Client) *http.Client {
	if client == nil {
		return http.DefaultClient
	}
	return client
}
