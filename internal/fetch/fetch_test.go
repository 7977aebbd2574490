package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pageFixture = `<!DOCTYPE html>
<html>
<head>
  <title>Go GC Guide</title>
  <style>body { color: red }</style>
  <script>console.log("tracking")</script>
</head>
<body>
  <nav>Home | About</nav>
  <h1>Garbage Collection</h1>
  <p>The collector is <strong>concurrent</strong> and mostly non-blocking.</p>
  <ul>
    <li>mark phase</li>
    <li>sweep phase</li>
  </ul>
  <footer>Copyright 2025</footer>
</body>
</html>`

func TestReadExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte(pageFixture))
	}))
	defer srv.Close()

	f := New(srv.Client(), zap.NewNop())
	page, err := f.Read(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Go GC Guide", page.Title)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", page.LastModified)

	assert.Contains(t, page.Content, "# Garbage Collection")
	assert.Contains(t, page.Content, "**concurrent**")
	assert.Contains(t, page.Content, "- mark phase")

	// Chrome, tracking and layout noise must not leak into knowledge.
	assert.NotContains(t, page.Content, "tracking")
	assert.NotContains(t, page.Content, "color: red")
	assert.NotContains(t, page.Content, "Home | About")
	assert.NotContains(t, page.Content, "Copyright")
}

func TestReadPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just plain text"))
	}))
	defer srv.Close()

	f := New(srv.Client(), zap.NewNop())
	page, err := f.Read(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "just plain text", page.Content)
	assert.Empty(t, page.Title)
}

func TestReadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(srv.Client(), zap.NewNop())
	_, err := f.Read(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestReadTruncatesHugePages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", maxContentChars+1000)))
	}))
	defer srv.Close()

	f := New(srv.Client(), zap.NewNop())
	page, err := f.Read(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(page.Content, "[...truncated...]"))
}

func TestLastModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", "Tue, 01 Apr 2025 09:00:00 GMT")
		}
	}))
	defer srv.Close()

	f := New(srv.Client(), zap.NewNop())
	assert.Equal(t, "Tue, 01 Apr 2025 09:00:00 GMT", f.LastModified(context.Background(), srv.URL))
	assert.Empty(t, f.LastModified(context.Background(), "http://127.0.0.1:1"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "bold and plain", StripTags("<b>bold</b> and plain"))
	assert.Equal(t, "no markup", StripTags("  no markup "))
	assert.Equal(t, "a b", StripTags("<div><p>a</p><p>b</p></div>"))
}
