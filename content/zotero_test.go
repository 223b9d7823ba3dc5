package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func zoteroTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	item := ZoteroItem{
		Key: "ABCD1234",
		Data: ZoteroItemData{
			Title:            "Attention Is All You Need",
			ItemType:         "journalArticle",
			AbstractNote:     "We propose a new network architecture.",
			PublicationTitle: "NeurIPS",
			Date:             "2017",
			DOI:              "10.0000/example",
			URL:              "https://example.org/paper",
			Creators: []ZoteroCreator{
				{FirstName: "Ashish", LastName: "Vaswani"},
				{Name: "Google Brain"},
			},
			Tags: []ZoteroTag{{Tag: "transformers"}},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/u123/items/ABCD1234", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Zotero-API-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(item)
	})
	mux.HandleFunc("/users/u123/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("limit") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]ZoteroItem{item})
	})
	mux.HandleFunc("/groups/g9/items", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ZoteroItem{item})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestZotero(t *testing.T, server *httptest.Server, libraryID, libraryType string) *ZoteroClient {
	t.Helper()
	z, err := NewZoteroClient(libraryID, libraryType, "secret",
		WithZoteroBaseURL(server.URL),
		WithZoteroHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("failed to build zotero client: %v", err)
	}
	return z
}

func TestZoteroClient_Validation(t *testing.T) {
	if _, err := NewZoteroClient("", "user", "key"); err == nil {
		t.Fatalf("expected error for missing library id")
	}
	if _, err := NewZoteroClient("u123", "user", ""); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := NewZoteroClient("u123", "shared", "key"); err == nil || !strings.Contains(err.Error(), "library type") {
		t.Fatalf("expected library type error, got %v", err)
	}
}

func TestZoteroClient_FromEnv(t *testing.T) {
	t.Setenv("ZOTERO_USER_ID", "")
	t.Setenv("ZOTERO_GROUP_ID", "g9")
	t.Setenv("ZOTERO_API_KEY", "secret")
	z, err := NewZoteroClientFromEnv()
	if err != nil {
		t.Fatalf("env client failed: %v", err)
	}
	if z.libraryType != "group" || z.libraryID != "g9" {
		t.Fatalf("expected group library from env, got %s/%s", z.libraryType, z.libraryID)
	}

	t.Setenv("ZOTERO_API_KEY", "")
	if _, err := NewZoteroClientFromEnv(); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestZoteroClient_Search(t *testing.T) {
	server := zoteroTestServer(t)
	z := newTestZotero(t, server, "u123", "user")

	items, err := z.Search(context.Background(), "attention", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(items) != 1 || items[0].Key != "ABCD1234" {
		t.Fatalf("unexpected search results %#v", items)
	}

	if _, err := z.Search(context.Background(), "   ", 2); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestZoteroClient_GroupLibraryPath(t *testing.T) {
	server := zoteroTestServer(t)
	z := newTestZotero(t, server, "g9", "group")

	items, err := z.Search(context.Background(), "attention", defaultZoteroLimit)
	if err != nil {
		t.Fatalf("group search failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
}

func TestZoteroItem_Text(t *testing.T) {
	server := zoteroTestServer(t)
	z := newTestZotero(t, server, "u123", "user")

	item, err := z.Item(context.Background(), "ABCD1234")
	if err != nil {
		t.Fatalf("item fetch failed: %v", err)
	}
	text := item.Text()
	for _, want := range []string{
		"Attention Is All You Need",
		"Authors: Ashish Vaswani, Google Brain",
		"Year: 2017",
		"Publication: NeurIPS",
		"DOI: 10.0000/example",
		"We propose a new network architecture.",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("item text missing %q:\n%s", want, text)
		}
	}
}

func TestExtract_ZoteroItem(t *testing.T) {
	server := zoteroTestServer(t)
	z := newTestZotero(t, server, "u123", "user")
	extractor := NewExtractor(WithZotero(z))

	text, err := extractor.Extract(context.Background(), Input{Zotero: "ABCD1234"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if !strings.Contains(text, "Attention Is All You Need") {
		t.Fatalf("unexpected extracted text %q", text)
	}

	bare := NewExtractor()
	if _, err := bare.Extract(context.Background(), Input{Zotero: "ABCD1234"}); err == nil {
		t.Fatalf("expected error without a configured zotero client")
	}
}

func TestInput_ZoteroRef(t *testing.T) {
	if got := (Input{Zotero: "ABCD1234"}).Ref(); got != "zotero:ABCD1234" {
		t.Fatalf("unexpected ref %q", got)
	}
}
