package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepresearch/internal/types"
)

const duckFixture = `<!DOCTYPE html>
<html><body>
<div id="links" class="results">
  <div class="result results_links results_links_deep web-result">
    <div class="links_main links_deep result__body">
      <h2 class="result__title">
        <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog%2Fgc&amp;rut=abc123">Getting to Go: The Journey of Go's Garbage Collector</a>
      </h2>
      <a class="result__snippet" href="https://go.dev/blog/gc">A deep dive into the <b>garbage collector</b> design.</a>
    </div>
  </div>
  <div class="result results_links results_links_deep web-result">
    <div class="links_main links_deep result__body">
      <h2 class="result__title">
        <a rel="nofollow" class="result__a" href="https://example.org/gc-tuning">GC tuning guide</a>
      </h2>
      <a class="result__snippet" href="https://example.org/gc-tuning">How to tune the collector.</a>
    </div>
  </div>
  <div class="result results_links">
    <div class="result__body">
      <h2><a class="result__a" href="">Broken result without URL</a></h2>
    </div>
  </div>
</div>
</body></html>`

func TestParseDuckResults(t *testing.T) {
	results, err := ParseDuckResults(duckFixture, 30)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Getting to Go: The Journey of Go's Garbage Collector", results[0].Title)
	assert.Equal(t, "https://go.dev/blog/gc", results[0].URL, "redirect URL must be unwrapped")
	assert.Contains(t, results[0].Description, "garbage collector")
	assert.Equal(t, 1, results[0].Weight)

	assert.Equal(t, "https://example.org/gc-tuning", results[1].URL)
}

func TestParseDuckResultsMaxResults(t *testing.T) {
	results, err := ParseDuckResults(duckFixture, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestParseDuckResultsEmptyPage(t *testing.T) {
	results, err := ParseDuckResults("<html><body><p>no results</p></body></html>", 30)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDuckSearchEndToEnd(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(duckFixture))
	}))
	defer srv.Close()

	d := NewDuck(srv.Client(), zap.NewNop())
	d.endpoint = srv.URL

	results, err := d.Search(context.Background(), types.SERPQuery{Q: "go garbage collector"})
	require.NoError(t, err)
	assert.Equal(t, "go garbage collector", gotQuery)
	assert.Len(t, results, 2)
}

func TestDuckSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDuck(srv.Client(), zap.NewNop())
	d.endpoint = srv.URL

	_, err := d.Search(context.Background(), types.SERPQuery{Q: "anything"})
	assert.Error(t, err)
}
