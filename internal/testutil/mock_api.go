// Package testutil provides testing utilities for the storage files export.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// FilesPath is the listing path served by MockStorageAPI.
const FilesPath = "/v2/storage/files"

// TokenHeader is the credential header checked when a token is configured.
const TokenHeader = "X-StorageApi-Token"

// RecordedRequest captures what the mock saw for one request.
type RecordedRequest struct {
	Limit       string
	Offset      string
	ShowExpired string
	Header      http.Header
}

// MockStorageAPI is an in-process listing API that pages a fixed item list
// by limit and offset.
type MockStorageAPI struct {
	server *httptest.Server

	mu       sync.RWMutex
	items    []map[string]any
	token    string
	failures map[int]int // offset -> status code
	headers  map[string]string
	requests []RecordedRequest
}

// NewMockStorageAPI starts a mock listing API serving items.
func NewMockStorageAPI(items []map[string]any) *MockStorageAPI {
	m := &MockStorageAPI{
		items:    items,
		failures: make(map[int]int),
		headers:  make(map[string]string),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// NewTLSMockStorageAPI is NewMockStorageAPI over TLS with a self-signed certificate.
func NewTLSMockStorageAPI(items []map[string]any) *MockStorageAPI {
	m := &MockStorageAPI{
		items:    items,
		failures: make(map[int]int),
		headers:  make(map[string]string),
	}
	m.server = httptest.NewTLSServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the listing endpoint URL.
func (m *MockStorageAPI) URL() string {
	return m.server.URL + FilesPath
}

// HTTPClient returns a client that trusts the mock's TLS certificate.
func (m *MockStorageAPI) HTTPClient() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockStorageAPI) Close() {
	m.server.Close()
}

// RequireToken makes the mock answer 401 unless TokenHeader equals token.
func (m *MockStorageAPI) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// FailAt makes requests for offset answer with status.
func (m *MockStorageAPI) FailAt(offset, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[offset] = status
}

// SetHeader adds a header to every successful response.
func (m *MockStorageAPI) SetHeader(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[key] = value
}

// Requests returns a copy of the recorded requests.
func (m *MockStorageAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockStorageAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Offsets returns the offset parameter of every request in order.
func (m *MockStorageAPI) Offsets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offsets := make([]string, len(m.requests))
	for i, r := range m.requests {
		offsets[i] = r.Offset
	}
	return offsets
}

func (m *MockStorageAPI) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Limit:       q.Get("limit"),
		Offset:      q.Get("offset"),
		ShowExpired: q.Get("showExpired"),
		Header:      r.Header.Clone(),
	})
	token := m.token
	items := m.items
	headers := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		headers[k] = v
	}
	m.mu.Unlock()

	if r.URL.Path != FilesPath {
		http.NotFound(w, r)
		return
	}

	if token != "" && r.Header.Get(TokenHeader) != token {
		writeError(w, http.StatusUnauthorized, "Invalid access token")
		return
	}

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	status, fail := m.failures[offset]
	m.mu.RUnlock()
	if fail {
		writeError(w, status, fmt.Sprintf("forced failure at offset %d", offset))
		return
	}

	start := min(offset, len(items))
	end := min(offset+limit, len(items))
	page := items[start:end]
	if page == nil {
		page = []map[string]any{}
	}

	for k, v := range headers {
		w.Header().Set(k, v)
	}

	if etag := headers["ETag"]; etag != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(page)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"code":   status,
		"status": "error",
	})
}

// Files builds n file-like listing items with ids 1..n.
func Files(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		id := i + 1
		items[i] = map[string]any{
			"id":        id,
			"name":      fmt.Sprintf("file-%d.csv", id),
			"sizeBytes": id * 1024,
			"isExpired": id%2 == 0,
		}
	}
	return items
}
