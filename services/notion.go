package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const (
	notionBaseURL    = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
)

// Notion is the slice of the Notion API the notion node uses
type Notion interface {
	ReadPage(ctx context.Context, pageID string) (map[string]interface{}, error)
	CreatePage(ctx context.Context, databaseID string, properties map[string]interface{}) (map[string]interface{}, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]interface{}) (map[string]interface{}, error)
}

// NotionClient talks to the Notion REST API
type NotionClient struct {
	token  string
	client *http.Client
	logger Logger
}

// NewNotionClient creates a Notion client with the integration token
func NewNotionClient(token string, client *http.Client, logger Logger) *NotionClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &NotionClient{token: token, client: client, logger: logger}
}

func (n *NotionClient) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("notion: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, notionBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Notion-Version", notionAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("notion: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("notion: %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("notion: decode response: %w", err)
	}
	return out, nil
}

// ReadPage fetches a page by id
func (n *NotionClient) ReadPage(ctx context.Context, pageID string) (map[string]interface{}, error) {
	return n.do(ctx, http.MethodGet, "/pages/"+pageID, nil)
}

// CreatePage creates a page in a database
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties map[string]interface{}) (map[string]interface{}, error) {
	return n.do(ctx, http.MethodPost, "/pages", map[string]interface{}{
		"parent":     map[string]interface{}{"database_id": databaseID},
		"properties": properties,
	})
}

// UpdatePage patches a page's properties
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties map[string]interface{}) (map[string]interface{}, error) {
	return n.do(ctx, http.MethodPatch, "/pages/"+pageID, map[string]interface{}{
		"properties": properties,
	})
}

// FakeNotion is an in-memory Notion used by tests
type FakeNotion struct {
	mu    sync.Mutex
	pages map[string]map[string]interface{}
	next  int
}

// NewFakeNotion creates an empty fake
func NewFakeNotion() *FakeNotion {
	return &FakeNotion{pages: make(map[string]map[string]interface{})}
}

// Seed installs a page
func (f *FakeNotion) Seed(pageID string, page map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[pageID] = page
}

func (f *FakeNotion) ReadPage(_ context.Context, pageID string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("notion: page %q not found", pageID)
	}
	return page, nil
}

func (f *FakeNotion) CreatePage(_ context.Context, databaseID string, properties map[string]interface{}) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("page-%d", f.next)
	page := map[string]interface{}{
		"id":         id,
		"parent":     map[string]interface{}{"database_id": databaseID},
		"properties": properties,
	}
	f.pages[id] = page
	return page, nil
}

func (f *FakeNotion) UpdatePage(_ context.Context, pageID string, properties map[string]interface{}) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("notion: page %q not found", pageID)
	}
	page["properties"] = properties
	return page, nil
}
