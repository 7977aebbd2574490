// Package trackers holds the two passive observability sinks of an
// agent run: the token tracker (per-tool model usage) and the action
// tracker (latest step state). Both notify listeners synchronously and
// never influence control flow beyond exposing totals.
package trackers

import (
	"sync"

	"deepresearch/internal/types"
)

// TokenUsage is a single recorded model call.
type TokenUsage struct {
	Tool  string      `json:"tool"`
	Usage types.Usage `json:"usage"`
}

// TokenTracker accumulates model usage per tool. Listeners registered
// with OnUsage are called synchronously after every record and must not
// block.
type TokenTracker struct {
	mu        sync.Mutex
	usages    []TokenUsage
	budget    int
	listeners []func(types.Usage)
}

// NewTokenTracker creates a tracker with the given token budget.
// A budget of zero means unlimited.
func NewTokenTracker(budget int) *TokenTracker {
	return &TokenTracker{budget: budget}
}

// Budget returns the configured token budget.
func (t *TokenTracker) Budget() int {
	return t.budget
}

// TrackUsage records usage for one tool call and notifies listeners.
func (t *TokenTracker) TrackUsage(tool string, usage types.Usage) {
	t.mu.Lock()
	t.usages = append(t.usages, TokenUsage{Tool: tool, Usage: usage})
	listeners := t.listeners
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(usage)
	}
}

// TotalUsage sums all recorded usage.
func (t *TokenTracker) TotalUsage() types.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total types.Usage
	for _, u := range t.usages {
		total.Add(u.Usage)
	}
	return total
}

// UsageBreakdown returns total tokens grouped by tool name.
func (t *TokenTracker) UsageBreakdown() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	breakdown := make(map[string]int)
	for _, u := range t.usages {
		breakdown[u.Tool] += u.Usage.TotalTokens
	}
	return breakdown
}

// OnUsage registers a synchronous usage listener.
func (t *TokenTracker) OnUsage(fn func(types.Usage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Reset discards all recorded usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usages = nil
}
