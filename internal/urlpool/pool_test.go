package urlpool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path", true},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a", true},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a", true},
		{"keeps custom port", "https://example.com:8443/a", "https://example.com:8443/a", true},
		{"strips fragment", "https://example.com/a#section", "https://example.com/a", true},
		{"collapses duplicate slashes", "https://example.com//a///b", "https://example.com/a/b", true},
		{"keeps query", "https://example.com/a?x=1&y=2", "https://example.com/a?x=1&y=2", true},
		{"rejects ftp", "ftp://example.com/a", "", false},
		{"rejects relative", "/just/a/path", "", false},
		{"rejects empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443//a//b#frag",
		"http://site.org/path?q=1",
		"https://a.com",
	}
	for _, in := range inputs {
		once, ok := Normalize(in)
		require.True(t, ok)
		twice, ok := Normalize(once)
		require.True(t, ok)
		assert.Equal(t, once, twice)
	}
}

func TestPoolAddDeduplicates(t *testing.T) {
	p := New()

	added := p.Add(types.Snippet{URL: "https://example.com/a", Title: "First"})
	require.True(t, added)
	require.Equal(t, 1, p.Len())

	// Same URL under a different surface form merges into one entry
	// and bumps the weight.
	p.Add(types.Snippet{URL: "HTTPS://EXAMPLE.COM:443/a#x", Description: "desc"})
	assert.Equal(t, 1, p.Len())

	s, ok := p.Get("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, 2, s.Weight)
	assert.Equal(t, "First", s.Title)
	assert.Equal(t, "desc", s.Description)
}

func TestPoolAddRejectsInvalid(t *testing.T) {
	p := New()
	assert.False(t, p.Add(types.Snippet{URL: "not a url"}))
	assert.False(t, p.Add(types.Snippet{URL: "mailto:x@y.com"}))
	assert.Equal(t, 0, p.Len())
}

func TestFilterRemovesVisited(t *testing.T) {
	candidates := []types.Snippet{
		{URL: "https://a.com/1"},
		{URL: "https://a.com/2"},
		{URL: "https://b.com/1"},
	}
	visited := map[string]bool{"https://a.com/2": true}
	got := Filter(candidates, visited)
	require.Len(t, got, 2)
	assert.Equal(t, "https://a.com/1", got[0].URL)
	assert.Equal(t, "https://b.com/1", got[1].URL)
}

func TestRankPrefersQuestionOverlap(t *testing.T) {
	question := "latest golang garbage collector changes"
	candidates := []types.Snippet{
		{URL: "https://b.com/cats", Title: "Cute cats", Description: "pictures of cats", Weight: 1},
		{URL: "https://a.com/gc", Title: "Golang garbage collector deep dive", Description: "latest changes explained", Weight: 1},
	}
	ranked := Rank(candidates, question)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://a.com/gc", ranked[0].URL)
}

func TestRankStableWithoutNewEvidence(t *testing.T) {
	question := "some research question"
	candidates := []types.Snippet{
		{URL: "https://c.com/x", Weight: 1},
		{URL: "https://a.com/x", Weight: 1},
		{URL: "https://b.com/x", Weight: 1},
	}
	first := Rank(candidates, question)
	second := Rank(candidates, question)
	assert.Equal(t, first, second)

	// Equal scores fall back to URL order.
	assert.Equal(t, "https://a.com/x", first[0].URL)
	assert.Equal(t, "https://b.com/x", first[1].URL)
	assert.Equal(t, "https://c.com/x", first[2].URL)
}

func TestKeepKPerHostname(t *testing.T) {
	ranked := []types.Snippet{
		{URL: "https://a.com/1"},
		{URL: "https://a.com/2"},
		{URL: "https://a.com/3"},
		{URL: "https://b.com/1"},
		{URL: "https://a.com/4"},
		{URL: "https://b.com/2"},
		{URL: "https://b.com/3"},
	}
	got := KeepKPerHostname(ranked, 2)
	require.Len(t, got, 4)
	assert.Equal(t, "https://a.com/1", got[0].URL)
	assert.Equal(t, "https://a.com/2", got[1].URL)
	assert.Equal(t, "https://b.com/1", got[2].URL)
	assert.Equal(t, "https://b.com/2", got[3].URL)
}

func TestHostnameCounts(t *testing.T) {
	p := New()
	p.Add(types.Snippet{URL: "https://a.com/1"})
	p.Add(types.Snippet{URL: "https://a.com/2"})
	p.Add(types.Snippet{URL: "https://b.com/1"})
	counts := p.HostnameCounts()
	assert.Equal(t, 2, counts["a.com"])
	assert.Equal(t, 1, counts["b.com"])
}

func TestSampleHostnameProportional(t *testing.T) {
	counts := map[string]int{"a.com": 10, "b.com": 1}
	rng := rand.New(rand.NewSource(42))

	const draws = 10000
	hits := map[string]int{}
	for i := 0; i < draws; i++ {
		hits[SampleHostname(counts, rng)]++
	}

	// a.com should win roughly 10/11 of the draws.
	ratio := float64(hits["a.com"]) / draws
	assert.InDelta(t, 10.0/11.0, ratio, 0.03)
	assert.Positive(t, hits["b.com"])
}

func TestSampleHostnameEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, "", SampleHostname(nil, rng))
	assert.Equal(t, "", SampleHostname(map[string]int{}, rng))
}
