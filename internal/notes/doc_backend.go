package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DocumentBackend stores notes in a remote document service that
// exposes revision-checked structured documents over HTTP JSON.
// NoteFile.Location is the document id.
type DocumentBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewDocumentBackend(baseURL, token string) *DocumentBackend {
	return &DocumentBackend{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type wireLine struct {
	Text    string `json:"text"`
	Heading int    `json:"heading,omitempty"`
}

type wireDocument struct {
	Revision string     `json:"revision"`
	Lines    []wireLine `json:"lines"`
}

type wireWrite struct {
	IfRevision string     `json:"ifRevision"`
	Lines      []wireLine `json:"lines"`
}

func (d *DocumentBackend) Read(ctx context.Context, nf NoteFile) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.documentURL(nf), nil)
	if err != nil {
		return nil, fmt.Errorf("create document request: %w", err)
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("document %s: %w", nf.Location, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("document service http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire wireDocument
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	doc := &Document{Revision: wire.Revision, Lines: make([]Line, len(wire.Lines))}
	for i, l := range wire.Lines {
		doc.Lines[i] = Line{Text: l.Text, Heading: l.Heading}
	}
	return doc, nil
}

func (d *DocumentBackend) Write(ctx context.Context, nf NoteFile, doc *Document, ifRevision string) error {
	wire := wireWrite{IfRevision: ifRevision, Lines: make([]wireLine, len(doc.Lines))}
	for i, l := range doc.Lines {
		wire.Lines[i] = wireLine{Text: l.Text, Heading: l.Heading}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.documentURL(nf), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create document write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("write %s: %w", nf.Name, ErrBackendConflict)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("document service http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d *DocumentBackend) documentURL(nf NoteFile) string {
	return d.baseURL + "/documents/" + url.PathEscape(nf.Location)
}

func (d *DocumentBackend) authorize(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}
