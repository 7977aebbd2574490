// Package llm holds the model clients. Providers implement Client and
// return the raw model text; SafeGenerator layers JSON extraction,
// retries and usage tracking on top so callers always get a parseable
// object or a typed error.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"deepresearch/internal/config"
	"deepresearch/internal/types"
)

// Request is one structured-output generation call. Schema may be nil,
// in which case the provider runs in plain JSON mode.
type Request struct {
	Tool     string
	Schema   map[string]any
	System   string
	Messages []types.Message
}

// Result carries the raw model output and its token usage. Object is
// the provider's text content; extraction into valid JSON is the
// SafeGenerator's job.
type Result struct {
	Object json.RawMessage
	Usage  types.Usage
}

// Client is a single model provider.
type Client interface {
	GenerateObject(ctx context.Context, req Request) (*Result, error)
}

// New builds the provider selected by the configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case config.ProviderGemini, config.ProviderVertex:
		return NewGemini(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("invalid LLM provider: %q", cfg.LLMProvider)
	}
}
