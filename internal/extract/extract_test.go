package extract

import "testing"

func TestScanClassification(t *testing.T) {
	e := NewExtractor(nil)

	tests := []struct {
		text     string
		wantType string
	}{
		{"check https://arxiv.org/abs/2406.01234 out", TypePaper},
		{"pdf at https://arxiv.org/pdf/2406.01234", TypePaper}, // paper beats pdf
		{"https://example.com/report.pdf", TypePDF},
		{"https://example.com/report.pdf?dl=1", TypePDF},
		{"https://www.youtube.com/watch?v=abc123", TypeVideo},
		{"https://b23.tv/xYz", TypeVideo},
		{"https://www.bilibili.com/video/BV1xx411c7mD", TypeVideo},
		{"https://mp.weixin.qq.com/s/abcdef", TypeArticle},
		{"https://example.com/blog/post", TypeWebLink},
	}
	for _, tt := range tests {
		links := e.Scan(tt.text)
		if len(links) != 1 {
			t.Fatalf("Scan(%q) returned %d links, want 1", tt.text, len(links))
		}
		if links[0].Type != tt.wantType {
			t.Errorf("Scan(%q) type = %q, want %q", tt.text, links[0].Type, tt.wantType)
		}
	}
}

func TestScanNoMatch(t *testing.T) {
	e := NewExtractor(nil)
	if links := e.Scan("just plain conversation, no references"); links != nil {
		t.Fatalf("expected nil for no match, got %v", links)
	}
}

func TestScanDuplicateURLsCollapse(t *testing.T) {
	e := NewExtractor(nil)
	links := e.Scan("see https://example.com/x and again https://example.com/x")
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1 (duplicates collapse)", len(links))
	}
}

func TestScanMultipleDistinct(t *testing.T) {
	e := NewExtractor(nil)
	links := e.Scan("https://arxiv.org/abs/2406.01234 vs https://example.com/blog")
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	if links[0].Type != TypePaper || links[1].Type != TypeWebLink {
		t.Fatalf("types = %q, %q", links[0].Type, links[1].Type)
	}
}

func TestScanEnabledTypes(t *testing.T) {
	e := NewExtractor([]string{TypePaper})
	links := e.Scan("https://arxiv.org/abs/2406.01234 and https://example.com/blog")
	if len(links) != 1 || links[0].Type != TypePaper {
		t.Fatalf("links = %v, want only the paper", links)
	}

	e = NewExtractor([]string{TypeVideo})
	if links := e.Scan("https://arxiv.org/abs/2406.01234"); links != nil {
		t.Fatalf("disabled type should be dropped, got %v", links)
	}
}

func TestScanTrailingPunctuation(t *testing.T) {
	e := NewExtractor(nil)
	links := e.Scan("read https://example.com/post.")
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].URL != "https://example.com/post" {
		t.Fatalf("url = %q, trailing dot should be trimmed", links[0].URL)
	}
}

func TestScanSpan(t *testing.T) {
	e := NewExtractor(nil)
	text := "ref: https://example.com/a end"
	links := e.Scan(text)
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	start, end := links[0].Span[0], links[0].Span[1]
	if text[start:end] != links[0].URL {
		t.Fatalf("span %d:%d = %q, want %q", start, end, text[start:end], links[0].URL)
	}
}

func TestTitleHint(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://arxiv.org/abs/2406.01234", "arXiv:2406.01234"},
		{"https://arxiv.org/pdf/2406.01234", "arXiv:2406.01234"},
		{"https://github.com/golang/go", "golang/go"},
		{"https://www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"https://www.example.com/whatever", "example.com"},
	}
	for _, tt := range tests {
		if got := TitleHint(tt.url); got != tt.want {
			t.Errorf("TitleHint(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
