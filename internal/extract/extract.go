// Package extract finds and classifies embedded references in message
// text. Matching is table-driven: type-specific patterns are tried in
// order of specificity and the first hit wins, with a generic web link
// as the catch-all.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	TypeArticle = "article"
	TypeVideo   = "video"
	TypePaper   = "paper"
	TypePDF     = "pdf"
	TypeWebLink = "web_link"
)

type Link struct {
	URL  string
	Type string
	// Span is the [start, end) byte range of the URL in the scanned text.
	Span [2]int
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'）)】\]]+`)

type matcher struct {
	linkType string
	pattern  *regexp.Regexp
}

// Ordered most specific first; a paper-hosting domain beats the pdf
// extension, which beats video/article hosts, and anything that is a
// URL at all falls through to web_link.
var matchers = []matcher{
	{TypePaper, regexp.MustCompile(`arxiv\.org/(abs|pdf)/`)},
	{TypePDF, regexp.MustCompile(`\.pdf($|\?)`)},
	{TypeVideo, regexp.MustCompile(`(youtube\.com/watch|youtu\.be/|bilibili\.com/video|b23\.tv/)`)},
	{TypeArticle, regexp.MustCompile(`(mp\.weixin\.qq\.com/s|medium\.com/|substack\.com/)`)},
}

type Extractor struct {
	enabled map[string]bool // nil means all types enabled
}

// NewExtractor builds an Extractor limited to the given link types.
// An empty list enables everything.
func NewExtractor(enabledTypes []string) *Extractor {
	if len(enabledTypes) == 0 {
		return &Extractor{}
	}
	enabled := make(map[string]bool, len(enabledTypes))
	for _, t := range enabledTypes {
		enabled[strings.TrimSpace(t)] = true
	}
	return &Extractor{enabled: enabled}
}

// Scan returns one Link per distinct URL in text. No match is a normal
// empty result, not an error.
func (e *Extractor) Scan(text string) []Link {
	locs := urlPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	links := make([]Link, 0, len(locs))
	for _, loc := range locs {
		raw := trimTrailingPunct(text[loc[0]:loc[1]])
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true

		linkType := classify(raw)
		if e.enabled != nil && !e.enabled[linkType] {
			continue
		}
		links = append(links, Link{URL: raw, Type: linkType, Span: [2]int{loc[0], loc[0] + len(raw)}})
	}
	if len(links) == 0 {
		return nil
	}
	return links
}

func classify(rawURL string) string {
	for _, m := range matchers {
		if m.pattern.MatchString(rawURL) {
			return m.linkType
		}
	}
	return TypeWebLink
}

func trimTrailingPunct(s string) string {
	return strings.TrimRight(s, ".,;:!?。，；")
}

var (
	arxivIDPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5})`)
	bvPattern      = regexp.MustCompile(`bilibili\.com/video/(BV[0-9A-Za-z]+)`)
	githubPattern  = regexp.MustCompile(`github\.com/([^/\s]+/[^/\s?#]+)`)
)

// TitleHint derives a short human-readable label from the URL alone,
// used when content fetching yields nothing better.
func TitleHint(rawURL string) string {
	if m := arxivIDPattern.FindStringSubmatch(rawURL); m != nil {
		return "arXiv:" + m[1]
	}
	if m := bvPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := githubPattern.FindStringSubmatch(rawURL); m != nil {
		return strings.TrimSuffix(m[1], ".git")
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return rawURL
}
