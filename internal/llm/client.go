// Package llm talks to the summarization/reasoning capability over an
// OpenAI-compatible chat completions API. The pipeline only ever sees
// typed results and the three sentinel failures; everything else about
// the provider is opaque.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lwen/dailynote/internal/config"
)

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrTimeout         = errors.New("request timeout")
	ErrInvalidResponse = errors.New("invalid model response")
)

const (
	summarizePrompt = `You are a knowledge curation assistant. A shared link was detected in a chat.

Link: %s
Suggested label: %s

Fetched content (may be empty):
%s

Surrounding conversation:
%s

Write a compact reference card. Return strict JSON object:
{"title":"...","linkTitle":"short hyperlink text","summary":"2-4 sentences"}
Title should name the referenced work itself, not the conversation.`

	selectFilePrompt = `Choose the best note file for a new entry. Each file's description
is the only selection signal.

Entry title: %s
Entry summary: %s

Files:
%s

Return strict JSON object: {"name":"<file name>"}`

	placePrompt = `Place a new entry into a note outline. The outline's heading paths
are listed below, one per line, segments joined by " > ".

Entry title: %s
Entry summary: %s

Existing heading paths:
%s

Placement policy: %s

Actions:
- reuse_existing: file the entry under an existing path. Prefer the
  deepest existing path whose topic covers the entry.
- create_child: add a new child heading under the closest related
  existing path.
- create_root: add a new top-level heading; only when no existing
  top-level heading is topically related at all.

Return strict JSON object:
{"action":"reuse_existing|create_child|create_root","path":["...","..."],"newTitle":"only for create actions"}
For create_child the path names the parent; for create_root the path is empty.`
)

type Summary struct {
	Title     string `json:"title"`
	LinkTitle string `json:"linkTitle"`
	Summary   string `json:"summary"`
}

type FileOption struct {
	Name        string
	Description string
}

type Placement struct {
	Action   string   `json:"action"`
	Path     []string `json:"path"`
	NewTitle string   `json:"newTitle"`
}

// Client is the reasoning surface the pipeline depends on. Tests use a
// deterministic stand-in.
type Client interface {
	Summarize(ctx context.Context, url, titleHint, content string, contextMsgs []string) (*Summary, error)
	SelectNoteFile(ctx context.Context, title, summary string, files []FileOption) (string, error)
	Place(ctx context.Context, title, summary string, paths [][]string, policy string) (*Placement, error)
}

type client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(cfg *config.Config) Client {
	return &client{
		apiKey:     cfg.Provider.APIKey,
		baseURL:    cfg.Provider.BaseURL,
		model:      cfg.Provider.Model,
		maxTokens:  cfg.Provider.MaxTokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) Summarize(ctx context.Context, url, titleHint, content string, contextMsgs []string) (*Summary, error) {
	conversation := strings.Join(contextMsgs, "\n")
	resp, err := c.complete(ctx, fmt.Sprintf(summarizePrompt, url, titleHint, content, conversation))
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	var out Summary
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("summarize: parse result: %w", ErrInvalidResponse)
	}
	if strings.TrimSpace(out.Title) == "" {
		return nil, fmt.Errorf("summarize: empty title: %w", ErrInvalidResponse)
	}
	return &out, nil
}

func (c *client) SelectNoteFile(ctx context.Context, title, summary string, files []FileOption) (string, error) {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Description)
	}
	resp, err := c.complete(ctx, fmt.Sprintf(selectFilePrompt, title, summary, sb.String()))
	if err != nil {
		return "", fmt.Errorf("select note file: %w", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return "", fmt.Errorf("select note file: parse result: %w", ErrInvalidResponse)
	}
	return strings.TrimSpace(out.Name), nil
}

func (c *client) Place(ctx context.Context, title, summary string, paths [][]string, policy string) (*Placement, error) {
	var sb strings.Builder
	for _, p := range paths {
		sb.WriteString(strings.Join(p, " > "))
		sb.WriteString("\n")
	}
	resp, err := c.complete(ctx, fmt.Sprintf(placePrompt, title, summary, sb.String(), policy))
	if err != nil {
		return nil, fmt.Errorf("place: %w", err)
	}
	var out Placement
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return nil, fmt.Errorf("place: parse result: %w", ErrInvalidResponse)
	}
	return &out, nil
}

func (c *client) complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing provider api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing provider base url")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing provider model")
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.3,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("send request: %w", ErrTimeout)
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("http 429: %w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", ErrInvalidResponse)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices: %w", ErrInvalidResponse)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content: %w", ErrInvalidResponse)
	}
	return content, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
