// Package urlpool maintains the arena of discovered URLs. Entries are
// keyed by normalized URL so references and the visited set can hold
// plain strings; metadata is resolved by lookup. The pool also provides
// question-relevance ranking, per-hostname capping and the hostname
// histogram used for site: biased searches.
package urlpool

import (
	"math/rand"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"deepresearch/internal/types"
)

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

// Normalize canonicalizes a URL: lowercase scheme and host, default
// ports and fragments stripped, duplicate path slashes collapsed.
// Returns false for anything that is not a valid absolute http(s) URL.
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := duplicateSlashes.ReplaceAllString(u.EscapedPath(), "/")

	normalized := scheme + "://" + host + path
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}
	return normalized, true
}

// Hostname extracts the hostname of a normalized URL, without port.
func Hostname(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Pool is the set of known URLs keyed by normalized URL. It is owned by
// a single agent instance and mutated only from the loop, so it carries
// no locking.
type Pool struct {
	entries map[string]types.Snippet
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{entries: make(map[string]types.Snippet)}
}

// Add inserts a snippet, normalizing its URL. A new URL starts at
// weight 1; re-adding an existing URL increments its weight. Returns
// false when the URL cannot be normalized.
func (p *Pool) Add(s types.Snippet) bool {
	normalized, ok := Normalize(s.URL)
	if !ok {
		return false
	}
	s.URL = normalized
	if existing, ok := p.entries[normalized]; ok {
		existing.Weight++
		if existing.Title == "" {
			existing.Title = s.Title
		}
		if existing.Description == "" {
			existing.Description = s.Description
		}
		p.entries[normalized] = existing
		return true
	}
	if s.Weight < 1 {
		s.Weight = 1
	}
	p.entries[normalized] = s
	return true
}

// Get looks up a snippet by raw or normalized URL.
func (p *Pool) Get(raw string) (types.Snippet, bool) {
	normalized, ok := Normalize(raw)
	if !ok {
		return types.Snippet{}, false
	}
	s, ok := p.entries[normalized]
	return s, ok
}

// Len returns the number of distinct URLs.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Snippets returns all entries in deterministic URL order.
func (p *Pool) Snippets() []types.Snippet {
	out := make([]types.Snippet, 0, len(p.entries))
	for _, s := range p.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// HostnameCounts returns the hostname histogram over the whole pool.
func (p *Pool) HostnameCounts() map[string]int {
	counts := make(map[string]int)
	for u := range p.entries {
		if host := Hostname(u); host != "" {
			counts[host]++
		}
	}
	return counts
}

// Filter removes already-visited URLs from the candidate list.
func Filter(candidates []types.Snippet, visited map[string]bool) []types.Snippet {
	out := make([]types.Snippet, 0, len(candidates))
	for _, s := range candidates {
		if !visited[s.URL] {
			out = append(out, s)
		}
	}
	return out
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		if len(tok) > 2 {
			tokens[tok] = true
		}
	}
	return tokens
}

// Rank orders candidates by relevance to the question: token overlap
// between the question and the snippet's title+description, with the
// accumulated weight as a secondary boost. Ties break on URL so the
// order is stable across calls with unchanged evidence.
func Rank(candidates []types.Snippet, question string) []types.Snippet {
	qTokens := tokenize(question)
	type scored struct {
		snippet types.Snippet
		score   float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, s := range candidates {
		overlap := 0
		for tok := range tokenize(s.Title + " " + s.Description) {
			if qTokens[tok] {
				overlap++
			}
		}
		ranked = append(ranked, scored{
			snippet: s,
			score:   float64(overlap) + float64(s.Weight)*0.1,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].snippet.URL < ranked[j].snippet.URL
	})
	out := make([]types.Snippet, len(ranked))
	for i, r := range ranked {
		out[i] = r.snippet
	}
	return out
}

// KeepKPerHostname retains at most k URLs per hostname, preserving the
// incoming rank order within each hostname.
func KeepKPerHostname(ranked []types.Snippet, k int) []types.Snippet {
	seen := make(map[string]int)
	out := make([]types.Snippet, 0, len(ranked))
	for _, s := range ranked {
		host := Hostname(s.URL)
		if seen[host] >= k {
			continue
		}
		seen[host]++
		out = append(out, s)
	}
	return out
}

// SampleHostname draws a hostname from the histogram with probability
// proportional to its count. Returns "" for an empty histogram.
func SampleHostname(counts map[string]int, rng *rand.Rand) string {
	if len(counts) == 0 {
		return ""
	}
	hosts := make([]string, 0, len(counts))
	for h := range counts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	total := 0
	for _, h := range hosts {
		total += counts[h]
	}
	if total <= 0 {
		return ""
	}
	draw := rng.Intn(total)
	for _, h := range hosts {
		draw -= counts[h]
		if draw < 0 {
			return h
		}
	}
	return hosts[len(hosts)-1]
}
