package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"deepresearch/internal/types"
)

const duckEndpoint = "https://html.duckduckgo.com/html/"

const maxDuckResults = 30

// Duck scrapes the DuckDuckGo HTML endpoint. No API key required, but
// only the plain query string is honored; tbs/gl/hl hints are ignored.
type Duck struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewDuck creates a DuckDuckGo provider.
func NewDuck(client *http.Client, logger *zap.Logger) *Duck {
	return &Duck{endpoint: duckEndpoint, client: httpOrDefault(client), logger: logger}
}

// Search fetches and parses one results page.
func (d *Duck) Search(ctx context.Context, query types.SERPQuery) ([]types.Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?q="+url.QueryEscape(query.Q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results, err := ParseDuckResults(string(body), maxDuckResults)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("duck search completed",
		zap.String("q", query.Q), zap.Int("results", len(results)))
	return results, nil
}

// ParseDuckResults extracts snippets from a DuckDuckGo HTML results
// page. Result blocks are divs carrying both the result and
// results_links classes.
func ParseDuckResults(htmlContent string, maxResults int) ([]types.Snippet, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []types.Snippet
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") && strings.Contains(attr.Val, "results_links") {
					s := extractDuckResult(n)
					if s.URL != "" && s.Title != "" {
						s.Weight = 1
						results = append(results, s)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return results, nil
}

func extractDuckResult(n *html.Node) types.Snippet {
	var s types.Snippet

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if strings.Contains(attr.Val, "result__a") {
						s.URL = attrValue(n, "href")
						s.Title = textContent(n)
					} else if strings.Contains(attr.Val, "result__snippet") {
						s.Description = textContent(n)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	// Unwrap the DuckDuckGo redirect.
	if strings.HasPrefix(s.URL, "//duckduckgo.com/l/?uddg=") {
		if decoded, err := url.QueryUnescape(strings.TrimPrefix(s.URL, "//duckduckgo.com/l/?uddg=")); err == nil {
			if idx := strings.Index(decoded, "&"); idx > 0 {
				decoded = decoded[:idx]
			}
			s.URL = decoded
		}
	}
	return s
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}
