package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultZoteroBaseURL = "https://api.zotero.org"
	zoteroAPIVersion     = "3"
	defaultZoteroLimit   = 25
)

// ZoteroClient reads items from a Zotero user or group library over the web
// API, so reference-manager entries can be ingested like any other source.
type ZoteroClient struct {
	libraryID   string
	libraryType string
	apiKey      string
	baseURL     string
	client      *http.Client
}

type ZoteroOption func(*ZoteroClient)

func WithZoteroHTTPClient(client *http.Client) ZoteroOption {
	return func(z *ZoteroClient) {
		if client != nil {
			z.client = client
		}
	}
}

func WithZoteroBaseURL(baseURL string) ZoteroOption {
	return func(z *ZoteroClient) {
		if baseURL != "" {
			z.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewZoteroClient builds a client for one library. libraryType is "user" or
// "group"; empty defaults to "user".
func NewZoteroClient(libraryID, libraryType, apiKey string, opts ...ZoteroOption) (*ZoteroClient, error) {
	libraryID = strings.TrimSpace(libraryID)
	if libraryID == "" {
		return nil, fmt.Errorf("zotero library id is required (set ZOTERO_USER_ID or ZOTERO_GROUP_ID)")
	}
	if libraryType == "" {
		libraryType = "user"
	}
	if libraryType != "user" && libraryType != "group" {
		return nil, fmt.Errorf("invalid zotero library type %q (use user or group)", libraryType)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("zotero api key is required (set ZOTERO_API_KEY)")
	}
	z := &ZoteroClient{
		libraryID:   libraryID,
		libraryType: libraryType,
		apiKey:      apiKey,
		baseURL:     defaultZoteroBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(z)
	}
	return z, nil
}

// NewZoteroClientFromEnv reads ZOTERO_USER_ID or ZOTERO_GROUP_ID,
// ZOTERO_LIBRARY_TYPE, and ZOTERO_API_KEY.
func NewZoteroClientFromEnv(opts ...ZoteroOption) (*ZoteroClient, error) {
	libraryID := os.Getenv("ZOTERO_USER_ID")
	libraryType := "user"
	if libraryID == "" {
		libraryID = os.Getenv("ZOTERO_GROUP_ID")
		if libraryID != "" {
			libraryType = "group"
		}
	}
	if v := os.Getenv("ZOTERO_LIBRARY_TYPE"); v != "" {
		libraryType = v
	}
	return NewZoteroClient(libraryID, libraryType, os.Getenv("ZOTERO_API_KEY"), opts...)
}

type ZoteroItem struct {
	Key  string         `json:"key"`
	Data ZoteroItemData `json:"data"`
}

type ZoteroItemData struct {
	Title            string          `json:"title"`
	ItemType         string          `json:"itemType"`
	AbstractNote     string          `json:"abstractNote"`
	PublicationTitle string          `json:"publicationTitle"`
	Date             string          `json:"date"`
	DOI              string          `json:"DOI"`
	URL              string          `json:"url"`
	Creators         []ZoteroCreator `json:"creators"`
	Tags             []ZoteroTag     `json:"tags"`
}

type ZoteroCreator struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name"`
}

type ZoteroTag struct {
	Tag string `json:"tag"`
}

// Search runs a quick search over title, creator, and year fields.
func (z *ZoteroClient) Search(ctx context.Context, query string, limit int) ([]ZoteroItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("zotero search query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultZoteroLimit
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var items []ZoteroItem
	if err := z.get(ctx, z.itemsPath(), params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Item fetches one item by its Zotero key.
func (z *ZoteroClient) Item(ctx context.Context, itemKey string) (ZoteroItem, error) {
	itemKey = strings.TrimSpace(itemKey)
	if itemKey == "" {
		return ZoteroItem{}, fmt.Errorf("zotero item key cannot be empty")
	}
	var item ZoteroItem
	if err := z.get(ctx, z.itemsPath()+"/"+url.PathEscape(itemKey), nil, &item); err != nil {
		return ZoteroItem{}, err
	}
	return item, nil
}

func (z *ZoteroClient) itemsPath() string {
	if z.libraryType == "group" {
		return "/groups/" + url.PathEscape(z.libraryID) + "/items"
	}
	return "/users/" + url.PathEscape(z.libraryID) + "/items"
}

func (z *ZoteroClient) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := z.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build zotero request: %w", err)
	}
	req.Header.Set("Zotero-API-Key", z.apiKey)
	req.Header.Set("Zotero-API-Version", zoteroAPIVersion)

	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("zotero request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zotero returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode zotero response: %w", err)
	}
	return nil
}

// Text renders the item's bibliographic fields and abstract as plain text
// suitable for extraction and chunking.
func (item ZoteroItem) Text() string {
	data := item.Data
	title := data.Title
	if title == "" {
		title = "Untitled"
	}

	var authors []string
	for _, creator := range data.Creators {
		switch {
		case creator.Name != "":
			authors = append(authors, creator.Name)
		case creator.FirstName != "" || creator.LastName != "":
			authors = append(authors, strings.TrimSpace(creator.FirstName+" "+creator.LastName))
		}
	}

	var out strings.Builder
	out.WriteString(title)
	out.WriteString("\n")
	writeField := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&out, "%s: %s\n", label, value)
		}
	}
	writeField("Authors", strings.Join(authors, ", "))
	writeField("Year", data.Date)
	writeField("Publication", data.PublicationTitle)
	writeField("DOI", data.DOI)
	writeField("URL", data.URL)
	if data.AbstractNote != "" {
		out.WriteString("\n")
		out.WriteString(data.AbstractNote)
		out.WriteString("\n")
	}
	return out.String()
}
