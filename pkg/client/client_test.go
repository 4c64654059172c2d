package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/storage-files-export/internal/testutil"
	"github.com/Sternrassler/storage-files-export/pkg/listing"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis starts an in-memory Redis for the cache tests.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client
}

func tokenHeaders(token string) http.Header {
	return http.Header{testutil.TokenHeader: []string{token}}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name:        "empty user agent",
			modify:      func(c *Config) { c.UserAgent = "" },
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "zero timeout",
			modify:      func(c *Config) { c.Timeout = 0 },
			expectError: true,
			errorMsg:    "timeout must be > 0 (got 0s)",
		},
		{
			name:        "negative rps",
			modify:      func(c *Config) { c.RequestsPerSecond = -1 },
			expectError: true,
			errorMsg:    "requests_per_second must be >= 0 (got -1)",
		},
		{
			name:        "negative cache ttl",
			modify:      func(c *Config) { c.CacheTTL = -time.Second },
			expectError: true,
			errorMsg:    "cache_ttl must be >= 0 (got -1s)",
		},
		{
			name:   "insecure and loud",
			modify: func(c *Config) { c.InsecureSkipVerify = true; c.Silent = false },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(tokenHeaders("secret"))
			tt.modify(&cfg)

			client, err := New(cfg)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Client is nil")
			}
			if client.GetCache() != nil {
				t.Error("cache should be disabled without redis")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	headers := tokenHeaders("secret")
	cfg := DefaultConfig(headers)

	if cfg.Headers.Get(testutil.TokenHeader) != "secret" {
		t.Error("Headers not set correctly")
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if !cfg.Silent {
		t.Error("Silent should default to true")
	}
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
}

func TestClassifyError(t *testing.T) {
	client := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{name: "network error", err: io.EOF, expected: ErrorClassNetwork},
		{name: "client error 404", statusCode: 404, expected: ErrorClassClient},
		{name: "client error 401", statusCode: 401, expected: ErrorClassClient},
		{name: "rate limit 429", statusCode: 429, expected: ErrorClassRateLimit},
		{name: "server error 500", statusCode: 500, expected: ErrorClassServer},
		{name: "server error 503", statusCode: 503, expected: ErrorClassServer},
		{name: "redirect 302", statusCode: 302, expected: ErrorClassUnexpected},
		{name: "success 200", statusCode: 200, expected: ""},
		{name: "success 204", statusCode: 204, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}

			if result := client.classifyError(resp, tt.err); result != tt.expected {
				t.Errorf("classifyError() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestDo_HeadersSet(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(1))
	defer mock.Close()
	mock.RequireToken("secret")

	cfg := DefaultConfig(http.Header{"x-storageapi-token": []string{"secret"}})
	cfg.UserAgent = "TestApp/1.0.0"
	client := newTestClient(t, cfg)

	resp, err := client.Get(context.Background(), mock.URL())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	got := mock.Requests()[0].Header
	if got.Get("User-Agent") != "TestApp/1.0.0" {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if got.Get(testutil.TokenHeader) != "secret" {
		t.Errorf("%s = %q", testutil.TokenHeader, got.Get(testutil.TokenHeader))
	}
}

func TestDo_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass ErrorClass
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantClass: ErrorClassClient},
		{name: "not found", status: http.StatusNotFound, wantClass: ErrorClassClient},
		{name: "too many requests", status: http.StatusTooManyRequests, wantClass: ErrorClassRateLimit},
		{name: "internal error", status: http.StatusInternalServerError, wantClass: ErrorClassServer},
		{name: "bad gateway", status: http.StatusBadGateway, wantClass: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockStorageAPI(testutil.Files(3))
			defer mock.Close()
			mock.FailAt(0, tt.status)

			client := newTestClient(t, DefaultConfig(nil))
			resp, err := client.Get(context.Background(), mock.URL()+"?offset=0")
			if resp != nil {
				t.Error("expected nil response on error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, tt.wantClass)
			}
			if !strings.Contains(apiErr.Body, "forced failure") {
				t.Errorf("Body = %q, want error payload excerpt", apiErr.Body)
			}
			if !IsHTTPStatus(err, tt.status) {
				t.Error("IsHTTPStatus() = false")
			}
		})
	}
}

func TestDo_ErrorBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer server.Close()

	client := newTestClient(t, DefaultConfig(nil))
	_, err := client.Get(context.Background(), server.URL)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if len(apiErr.Body) != maxErrorBody {
		t.Errorf("len(Body) = %d, want %d", len(apiErr.Body), maxErrorBody)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, DefaultConfig(nil))
	_, err := client.Get(context.Background(), url)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", apiErr.ErrorClass)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", apiErr.StatusCode)
	}
	if apiErr.Unwrap() == nil {
		t.Error("network error should wrap the transport error")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(1))
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, DefaultConfig(nil))
	_, err := client.Get(ctx, mock.URL())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDo_InsecureTLS(t *testing.T) {
	mock := testutil.NewTLSMockStorageAPI(testutil.Files(2))
	defer mock.Close()

	strict := newTestClient(t, DefaultConfig(nil))
	if _, err := strict.Get(context.Background(), mock.URL()); err == nil {
		t.Error("expected certificate error with verification enabled")
	}

	cfg := DefaultConfig(nil)
	cfg.InsecureSkipVerify = true
	insecure := newTestClient(t, cfg)
	resp, err := insecure.Get(context.Background(), mock.URL())
	if err != nil {
		t.Fatalf("Get() with verification disabled failed: %v", err)
	}
	resp.Body.Close()
}

func TestSetHTTPClient_TrustedTLS(t *testing.T) {
	mock := testutil.NewTLSMockStorageAPI(testutil.Files(3))
	defer mock.Close()

	client := newTestClient(t, DefaultConfig(tokenHeaders("secret")))
	client.SetHTTPClient(mock.HTTPClient())

	page, err := client.FetchPage(context.Background(), mock.URL(), listing.PageRequest{Limit: 10, ShowExpired: true})
	if err != nil {
		t.Fatalf("FetchPage() with trusted certificate failed: %v", err)
	}
	if len(page) != 3 {
		t.Errorf("FetchPage() returned %d items, want 3", len(page))
	}

	requests := mock.Requests()
	if len(requests) != 1 || requests[0].Header.Get(testutil.TokenHeader) != "secret" {
		t.Errorf("credential header not sent through the injected client: %+v", requests)
	}
}

func TestDo_RequestPacing(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(1))
	defer mock.Close()

	cfg := DefaultConfig(nil)
	cfg.RequestsPerSecond = 20
	client := newTestClient(t, cfg)

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), mock.URL())
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		resp.Body.Close()
	}

	// Burst of one, then one request every 50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 paced requests took %v, want at least ~100ms", elapsed)
	}
}

func TestDo_CacheHit(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(3))
	defer mock.Close()

	cfg := DefaultConfig(tokenHeaders("secret"))
	cfg.Redis = setupTestRedis(t)
	client := newTestClient(t, cfg)

	for i := 0; i < 2; i++ {
		page, err := client.FetchPage(context.Background(), mock.URL(), listing.PageRequest{Limit: 10, ShowExpired: true})
		if err != nil {
			t.Fatalf("FetchPage() #%d failed: %v", i+1, err)
		}
		if len(page) != 3 {
			t.Errorf("FetchPage() #%d returned %d items, want 3", i+1, len(page))
		}
	}

	if mock.RequestCount() != 1 {
		t.Errorf("server requests = %d, want 1 (second served from cache)", mock.RequestCount())
	}
}

func TestFetchPage_UndecodableBodyNotCached(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		if requests == 1 {
			w.Write([]byte(`{"error":"maintenance"}`))
			return
		}
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	cfg := DefaultConfig(nil)
	cfg.Redis = setupTestRedis(t)
	client := newTestClient(t, cfg)
	req := listing.PageRequest{Limit: 10, ShowExpired: true}

	_, err := client.FetchPage(context.Background(), server.URL, req)
	if !errors.Is(err, listing.ErrUnexpectedShape) {
		t.Fatalf("first FetchPage() error = %v, want ErrUnexpectedShape", err)
	}

	for i := 0; i < 2; i++ {
		page, err := client.FetchPage(context.Background(), server.URL, req)
		if err != nil {
			t.Fatalf("FetchPage() #%d after recovery failed: %v", i+2, err)
		}
		if len(page) != 1 {
			t.Errorf("FetchPage() #%d returned %d items, want 1", i+2, len(page))
		}
	}

	if requests != 2 {
		t.Errorf("server requests = %d, want 2 (bad body evicted, good body cached)", requests)
	}
}

func TestDo_CacheScopedByCredentials(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(3))
	defer mock.Close()
	redisClient := setupTestRedis(t)

	for _, token := range []string{"token-a", "token-b"} {
		cfg := DefaultConfig(tokenHeaders(token))
		cfg.Redis = redisClient
		client := newTestClient(t, cfg)

		if _, err := client.FetchPage(context.Background(), mock.URL(), listing.PageRequest{Limit: 10}); err != nil {
			t.Fatalf("FetchPage() failed: %v", err)
		}
	}

	if mock.RequestCount() != 2 {
		t.Errorf("server requests = %d, want 2 (one per credential)", mock.RequestCount())
	}
}

func TestDo_Handle304NotModified(t *testing.T) {
	requests := 0
	conditional := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer server.Close()

	cfg := DefaultConfig(nil)
	cfg.Redis = setupTestRedis(t)
	client := newTestClient(t, cfg)

	for i := 0; i < 2; i++ {
		page, err := client.FetchPage(context.Background(), server.URL+"/v2/storage/files", listing.PageRequest{Limit: 5})
		if err != nil {
			t.Fatalf("FetchPage() #%d failed: %v", i+1, err)
		}
		if len(page) != 2 {
			t.Fatalf("FetchPage() #%d returned %d items, want 2", i+1, len(page))
		}
	}

	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if conditional != 1 {
		t.Errorf("conditional requests = %d, want 1", conditional)
	}
}

func TestDo_304WithoutCacheIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultConfig(nil))
	_, err := client.Get(context.Background(), server.URL)
	if !IsHTTPStatus(err, http.StatusNotModified) {
		t.Errorf("error = %v, want APIError with status 304", err)
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockStorageAPI(testutil.Files(5))
	defer mock.Close()

	client := newTestClient(t, DefaultConfig(nil))
	page, err := client.FetchPage(context.Background(), mock.URL(), listing.PageRequest{Limit: 2, Offset: 2, ShowExpired: true})
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	id, _ := page[0].Get("id")
	if id != json.Number("3") {
		t.Errorf("first id = %v, want 3", id)
	}

	req := mock.Requests()[0]
	if req.Limit != "2" || req.Offset != "2" || req.ShowExpired != "true" {
		t.Errorf("query = limit:%q offset:%q showExpired:%q", req.Limit, req.Offset, req.ShowExpired)
	}
}

func TestFetchPage_UnexpectedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"files": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, DefaultConfig(nil))
	_, err := client.FetchPage(context.Background(), server.URL, listing.PageRequest{Limit: 10})
	if !errors.Is(err, listing.ErrUnexpectedShape) {
		t.Errorf("error = %v, want ErrUnexpectedShape", err)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target  string
		wantErr bool
	}{
		{target: "https://connection.keboola.com/v2/storage/files", wantErr: false},
		{target: "http://localhost:8080/files?x=1", wantErr: false},
		{target: "", wantErr: true},
		{target: "connection.keboola.com/v2/storage/files", wantErr: true},
		{target: "ftp://example.com/files", wantErr: true},
		{target: "https:///files", wantErr: true},
		{target: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			_, err := ParseTarget(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("error %v does not wrap ErrInvalidTarget", err)
			}
		})
	}
}
