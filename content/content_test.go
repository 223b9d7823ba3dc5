package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtract_RawText(t *testing.T) {
	e := NewExtractor()
	got, err := e.Extract(context.Background(), Input{Text: "  Hello world\r\n"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got != "Hello world" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("file contents\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	e := NewExtractor()
	got, err := e.Extract(context.Background(), Input{Path: path})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got != "file contents" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtract_MissingFile(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract(context.Background(), Input{Path: filepath.Join(t.TempDir(), "ghost.txt")}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestExtract_URLStripsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><style>p{color:red}</style><script>alert(1)</script></head><body><h1>Title</h1><p>Body &amp; soul</p></body></html>`))
	}))
	defer server.Close()

	e := NewExtractor(WithHTTPClient(server.Client()))
	got, err := e.Extract(context.Background(), Input{URL: server.URL})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got != "Title Body & soul" {
		t.Fatalf("unexpected text %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Fatalf("script contents leaked: %q", got)
	}
}

func TestExtract_URLNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := NewExtractor(WithHTTPClient(server.Client()))
	if _, err := e.Extract(context.Background(), Input{URL: server.URL}); err == nil {
		t.Fatalf("expected an error for status 404")
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract(context.Background(), Input{}); err == nil {
		t.Fatalf("expected an error for empty input")
	}
}

func TestSplit(t *testing.T) {
	words := make([]string, 0, 450)
	for i := 0; i < 450; i++ {
		words = append(words, "w")
	}
	text := strings.Join(words, " ")

	chunks := Split(text, 200, 20)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if got := len(strings.Fields(chunks[0])); got != 200 {
		t.Fatalf("expected 200 words in first chunk, got %d", got)
	}
	// Overlap: chunk 2 starts 180 words in, so total coverage holds.
	if got := len(strings.Fields(chunks[2])); got != 450-2*180 {
		t.Fatalf("unexpected final chunk size %d", got)
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("just a few words", 200, 20)
	if len(chunks) != 1 || chunks[0] != "just a few words" {
		t.Fatalf("unexpected chunks %v", chunks)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	if chunks := Split("   ", 200, 20); chunks != nil {
		t.Fatalf("expected nil, got %v", chunks)
	}
}

func TestInputRef(t *testing.T) {
	if got := (Input{URL: "https://example.com"}).Ref(); got != "url:https://example.com" {
		t.Fatalf("unexpected ref %q", got)
	}
	if got := (Input{}).Ref(); got != "" {
		t.Fatalf("unexpected ref %q", got)
	}
}
