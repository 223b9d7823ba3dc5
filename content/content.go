// Package content turns heterogeneous inputs (raw text, local files, URLs,
// Zotero library items) into plain text and splits it into chunks sized for
// embedding.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const defaultMaxFetchBytes = 8 << 20

// Input names exactly one content source. Precedence when several are set:
// Text, then Path, then URL, then Zotero (an item key in the configured
// library).
type Input struct {
	Text   string `json:"text,omitempty"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Zotero string `json:"zotero,omitempty"`
}

func (in Input) Ref() string {
	switch {
	case in.Text != "":
		return "text"
	case in.Path != "":
		return "file:" + in.Path
	case in.URL != "":
		return "url:" + in.URL
	case in.Zotero != "":
		return "zotero:" + in.Zotero
	}
	return ""
}

type Extractor struct {
	client   *http.Client
	maxBytes int64
	zotero   *ZoteroClient
}

type ExtractorOption func(*Extractor)

func WithHTTPClient(client *http.Client) ExtractorOption {
	return func(e *Extractor) {
		if client != nil {
			e.client = client
		}
	}
}

func WithMaxFetchBytes(n int64) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithZotero enables zotero inputs through the given client.
func WithZotero(client *ZoteroClient) ExtractorOption {
	return func(e *Extractor) {
		e.zotero = client
	}
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: defaultMaxFetchBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract resolves the input to plain text. HTML responses are stripped to
// their visible text.
func (e *Extractor) Extract(ctx context.Context, in Input) (string, error) {
	switch {
	case in.Text != "":
		return normalize(in.Text), nil
	case in.Path != "":
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read %q: %w", in.Path, err)
		}
		return normalize(string(data)), nil
	case in.URL != "":
		return e.fetch(ctx, in.URL)
	case in.Zotero != "":
		if e.zotero == nil {
			return "", fmt.Errorf("no zotero client configured for item %q", in.Zotero)
		}
		item, err := e.zotero.Item(ctx, in.Zotero)
		if err != nil {
			return "", fmt.Errorf("failed to fetch zotero item %q: %w", in.Zotero, err)
		}
		return normalize(item.Text()), nil
	}
	return "", fmt.Errorf("input has no text, path, url, or zotero key")
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %q: %w", url, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %q returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %q: %w", url, err)
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = StripHTML(text)
	}
	return normalize(text), nil
}

// StripHTML extracts the visible text from an HTML document, skipping
// script and style contents.
func StripHTML(src string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(src))
	var out strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return out.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(text)
		}
	}
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

// Split cuts text into chunks of roughly size words with the given overlap
// between neighbors, preferring paragraph boundaries. Chunks preserve the
// original word order and together cover the whole text.
func Split(text string, size, overlap int) []string {
	text = normalize(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
