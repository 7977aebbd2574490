package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deepresearch/internal/trackers"
)

// ErrSchemaViolation marks output that could not be coerced into JSON.
// The loop maps it to a synthetic error action instead of aborting.
var ErrSchemaViolation = errors.New("model output failed schema validation")

// SafeGenerator wraps a Client with output sanitation: it extracts JSON
// out of markdown fences and prose, retries once without a schema when
// the constrained call fails, and records usage into the token tracker.
type SafeGenerator struct {
	client  Client
	tracker *trackers.TokenTracker
	logger  *zap.Logger
}

// NewSafeGenerator creates a safe generator.
func NewSafeGenerator(client Client, tracker *trackers.TokenTracker, logger *zap.Logger) *SafeGenerator {
	return &SafeGenerator{client: client, tracker: tracker, logger: logger}
}

// GenerateObject runs the request and guarantees that the returned
// Object is valid JSON, or fails with ErrSchemaViolation.
func (g *SafeGenerator) GenerateObject(ctx context.Context, req Request) (*Result, error) {
	result, err := g.client.GenerateObject(ctx, req)
	if err == nil {
		if obj, ok := coerceJSON(result.Object); ok {
			result.Object = obj
			g.tracker.TrackUsage(req.Tool, result.Usage)
			return result, nil
		}
		g.tracker.TrackUsage(req.Tool, result.Usage)
		g.logger.Warn("model output is not valid JSON, retrying without schema",
			zap.String("tool", req.Tool))
	} else if req.Schema == nil {
		return nil, err
	} else {
		g.logger.Warn("constrained generation failed, retrying without schema",
			zap.String("tool", req.Tool), zap.Error(err))
	}

	// Fallback: one unconstrained pass, same conversation.
	fallback := req
	fallback.Schema = nil
	result, err = g.client.GenerateObject(ctx, fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback generation failed: %w", err)
	}
	g.tracker.TrackUsage(req.Tool, result.Usage)

	obj, ok := coerceJSON(result.Object)
	if !ok {
		return nil, fmt.Errorf("%w: tool %s", ErrSchemaViolation, req.Tool)
	}
	result.Object = obj
	return result, nil
}

// GenerateInto runs the request and unmarshals the object into out.
func (g *SafeGenerator) GenerateInto(ctx context.Context, req Request, out any) (*Result, error) {
	result, err := g.GenerateObject(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result.Object, out); err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", ErrSchemaViolation, req.Tool, err)
	}
	return result, nil
}

// coerceJSON returns the first JSON object found in the text, handling
// clean JSON, markdown fences and surrounding prose.
func coerceJSON(raw json.RawMessage) (json.RawMessage, bool) {
	text := strings.TrimSpace(string(raw))
	if json.Valid([]byte(text)) && text != "" {
		return json.RawMessage(text), true
	}

	if fenced := stripFences(text); fenced != "" && json.Valid([]byte(fenced)) {
		return json.RawMessage(fenced), true
	}

	if scanned := scanObject(text); scanned != "" && json.Valid([]byte(scanned)) {
		return json.RawMessage(scanned), true
	}
	return nil, false
}

// stripFences pulls the body out of a ```json ... ``` block.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Drop the language tag line.
		if tag := strings.TrimSpace(rest[:nl]); tag == "json" || tag == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// scanObject finds the first balanced top-level JSON object, skipping
// braces inside string literals.
func scanObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
