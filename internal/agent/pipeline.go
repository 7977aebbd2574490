package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deepresearch/internal/fetch"
	"deepresearch/internal/llm"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
	"deepresearch/internal/urlpool"
)

// siteBiasProbability is how often a query without an explicit site:
// operator gets one sampled from the hostname histogram of the pool.
const siteBiasProbability = 0.2

const dedupSystemPrompt = `You are an expert in semantic similarity analysis. Given a set of new queries and a set of existing queries, identify which new queries provide genuinely new information.

<rules>
1. A new query is a duplicate when an existing query (or another new query you already kept) would retrieve essentially the same results.
2. Consider semantic meaning, not surface form: rephrasings, translations and synonym swaps are duplicates.
3. Keep the original wording of the queries you return; never rewrite them.
</rules>`

// dedupStrings removes candidates that duplicate each other or any
// existing entry. A deterministic case-insensitive pass always runs
// first; the semantic model pass refines it and is skipped on error.
func (a *Agent) dedupStrings(ctx context.Context, candidates, existing []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[strings.ToLower(strings.TrimSpace(e))] = true
	}
	var floor []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		floor = append(floor, c)
	}
	if len(floor) == 0 {
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"new_queries":      floor,
		"existing_queries": existing,
	})
	var out schema.DedupResult
	_, err := a.gen.GenerateInto(ctx, llm.Request{
		Tool:     "dedup",
		Schema:   a.registry.DedupSchema(),
		System:   dedupSystemPrompt,
		Messages: []types.Message{{Role: "user", Content: string(payload)}},
	}, &out)
	if err != nil {
		a.logger.Warn("semantic dedup failed, keeping literal dedup", zap.Error(err))
		return floor
	}

	// The model may only narrow the floor set, never widen it.
	allowed := make(map[string]string, len(floor))
	for _, f := range floor {
		allowed[strings.ToLower(f)] = f
	}
	var unique []string
	for _, q := range out.UniqueQueries {
		if original, ok := allowed[strings.ToLower(strings.TrimSpace(q))]; ok {
			unique = append(unique, original)
			delete(allowed, strings.ToLower(original))
		}
	}
	return unique
}

// executeSearchQueries runs each query against the provider. Queries
// without a site: operator are occasionally biased toward a hostname
// already present in the pool. Provider errors skip the query; a run is
// recorded in the returned keywords only when it yielded results.
// Returns the executed keywords and the concatenated sound bites.
func (a *Agent) executeSearchQueries(ctx context.Context, st *runState, queries []types.SERPQuery) ([]string, string) {
	if a.searcher == nil || len(queries) == 0 {
		return nil, ""
	}

	var searched []string
	var soundBites strings.Builder
	for i, query := range queries {
		if i > 0 {
			a.sleep(ctx, a.opts.StepSleep)
		}
		oldQuery := query.Q
		if !strings.Contains(query.Q, "site:") && a.rng.Float64() < siteBiasProbability {
			if host := urlpool.SampleHostname(st.pool.HostnameCounts(), a.rng); host != "" {
				query.Q = query.Q + " site:" + host
			}
		}

		a.logger.Info("searching", zap.String("query", query.Q))
		snippets, err := a.searcher.Search(ctx, query)
		if err != nil {
			a.logger.Warn("search query failed", zap.String("query", query.Q), zap.Error(err))
			continue
		}
		if len(snippets) == 0 {
			continue
		}

		var descriptions []string
		for _, s := range snippets {
			st.pool.Add(s)
			soundBites.WriteString(s.Title)
			soundBites.WriteString(" ")
			soundBites.WriteString(s.Description)
			soundBites.WriteString("; ")
			if d := strings.TrimSpace(fetch.StripTags(s.Description)); d != "" {
				descriptions = append(descriptions, d)
			}
		}
		searched = append(searched, query.Q)

		item := types.KnowledgeItem{
			Question: fmt.Sprintf("What do Internet say about %q?", oldQuery),
			Answer:   strings.Join(descriptions, "; "),
			Type:     types.KnowledgeSideInfo,
		}
		if query.TBS != "" {
			item.Updated = a.now().Format("2006-01-02")
		}
		st.knowledge = append(st.knowledge, item)
	}
	return searched, soundBites.String()
}

// rewriteQuery expands the executed queries into refined provider
// queries grounded on the sound bites gathered so far. Returns nil on
// model failure; the caller treats that as nothing to add.
func (a *Agent) rewriteQuery(ctx context.Context, queries []types.SERPQuery, soundBites, current string) []types.SERPQuery {
	system := fmt.Sprintf(`You are an expert search query generator with deep psychological understanding. You optimize user queries by extensively analyzing potential user intents and generating comprehensive search variations.

Today is %s.

<rules>
1. Start with deep intent analysis of the original question: what is the user really trying to find out?
2. Generate queries that are orthogonal to each other, each covering a distinct aspect or angle.
3. Queries must be short, keyword-based, in the style real users type into search engines.
4. Use the tbs field whenever recency matters; use gl/hl/location only when the question is region or language specific.
5. Ground new queries on the search result sound bites below; follow leads they expose.
</rules>

<context>
%s
</context>`, a.now().UTC().Format("Mon, 02 Jan 2006"), soundBites)

	previous := make([]string, 0, len(queries))
	for _, q := range queries {
		previous = append(previous, q.Q)
	}
	user := fmt.Sprintf("Original question: %s\n\nAlready executed queries:\n%s", current, strings.Join(previous, "\n"))

	var out schema.QueryRewrite
	_, err := a.gen.GenerateInto(ctx, llm.Request{
		Tool:     "queryRewriter",
		Schema:   a.registry.QueryRewriterSchema(),
		System:   system,
		Messages: []types.Message{{Role: "user", Content: user}},
	}, &out)
	if err != nil {
		a.logger.Warn("query rewrite failed", zap.Error(err))
		return nil
	}
	return out.Queries
}
