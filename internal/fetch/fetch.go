// Package fetch retrieves linked content and reduces it to plain text
// suitable for summarization. Fetching is best effort: links that point
// at binary or streamed media yield no content, and the caller
// summarizes from the conversation alone.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/lwen/dailynote/internal/extract"
)

const (
	maxBodyBytes = 5 * 1024 * 1024
	maxTextBytes = 10 * 1024
)

type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch returns readable text for the link, or "" for link types whose
// payload is not text (videos, raw PDFs). Network failures are returned
// so the caller can decide whether to proceed without content.
func (f *Fetcher) Fetch(ctx context.Context, link extract.Link) (string, error) {
	switch link.Type {
	case extract.TypeVideo, extract.TypePDF:
		return "", nil
	case extract.TypePaper:
		return f.fetchText(ctx, paperPageURL(link.URL))
	default:
		return f.fetchText(ctx, link.URL)
	}
}

func (f *Fetcher) fetchText(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "dailynote/1.0 (+link summarizer)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: http %d", u.Host, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isTextual(ct) {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return extractText(string(body)), nil
}

// paperPageURL rewrites arXiv PDF links to the abstract page, which is
// HTML and carries the title, authors and abstract.
func paperPageURL(rawURL string) string {
	return strings.Replace(rawURL, "arxiv.org/pdf/", "arxiv.org/abs/", 1)
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "json")
}

// extractText walks the parsed HTML and collects visible text, skipping
// chrome elements. The result is whitespace-collapsed and truncated to
// keep prompts bounded.
func extractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true,
		"header": true, "footer": true, "aside": true,
		"noscript": true, "iframe": true,
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	result := strings.Join(strings.Fields(sb.String()), " ")
	if len(result) > maxTextBytes {
		result = result[:maxTextBytes] + "..."
	}
	return result
}
