// Package client provides the storage API HTTP client with credential
// injection, optional caching and request pacing, and error classification.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/storage-files-export/pkg/cache"
	"github.com/Sternrassler/storage-files-export/pkg/listing"
	"github.com/Sternrassler/storage-files-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for storage API requests.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "files_export_requests_total",
		Help: "Total storage API requests by status",
	}, []string{"status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "files_export_request_duration_seconds",
		Help:    "Storage API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "files_export_errors_total",
		Help: "Total storage API errors by class",
	}, []string{"class"})
)

// maxErrorBody caps how much of an error response body is kept.
const maxErrorBody = 512

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassUnexpected represents any other non-2xx status (1xx, unhandled 3xx).
	ErrorClassUnexpected ErrorClass = "unexpected"

	// ErrorClassNetwork represents DNS, connection, TLS and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client talks to the storage files listing API.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	limiter    *rate.Limiter
	scope      string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Headers are sent with every request. They carry the credentials,
	// e.g. X-StorageApi-Token.
	Headers http.Header

	// UserAgent header value
	UserAgent string

	// Timeout per request, including reading the body
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Silent suppresses the warning logged when TLS verification is off.
	Silent bool

	// RequestsPerSecond paces requests. 0 disables pacing.
	RequestsPerSecond float64

	// Redis enables the page cache when set
	Redis *redis.Client

	// CacheTTL applies to responses without an Expires header. 0 means
	// such responses are not cached.
	CacheTTL time.Duration
}

// DefaultConfig returns a default configuration using the given credential headers.
func DefaultConfig(headers http.Header) Config {
	return Config{
		Headers:   headers,
		UserAgent: "storage-files-export/0.1.0",
		Timeout:   30 * time.Second,
		Silent:    true,
		CacheTTL:  cache.DefaultTTL,
	}
}

// New creates a new storage API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %g)", cfg.RequestsPerSecond)
	}

	if cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("cache_ttl must be >= 0 (got %s)", cfg.CacheTTL)
	}

	logger := logging.NewLogger("storage-client")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		if !cfg.Silent {
			logger.Warn().Msg("TLS certificate verification is disabled")
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		scope:  cache.ScopeFromHeaders(cfg.Headers),
		config: cfg,
		logger: logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis, cfg.CacheTTL)
	}

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return c, nil
}

// Do performs an HTTP request with pacing, caching and error classification.
// Any response outside 2xx is returned as an *APIError with the body closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Pace
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for request slot: %w", err)
		}
	}

	// Step 2: Check Cache
	var cacheKey cache.CacheKey
	var cachedEntry *cache.CacheEntry
	if c.cache != nil {
		cacheKey = c.cacheKey(req.URL)

		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			cachedEntry = entry
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if cachedEntry != nil && !cache.ShouldMakeConditionalRequest(cachedEntry) {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", cachedEntry.TTL()).
				Msg("Serving page from cache")
			apiRequestsTotal.WithLabelValues("cached").Inc()
			return cache.EntryToResponse(cachedEntry, req), nil
		}

		// Step 3: Revalidate when the entry carries validators
		if cachedEntry != nil {
			cache.AddConditionalHeaders(req, cachedEntry)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", cachedEntry.ETag).
				Msg("Making conditional request")
		}
	}

	// Step 4: Headers
	for name, values := range c.config.Headers {
		req.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", req.URL.RawQuery).
		Msg("Executing storage API request")

	// Step 5: Execute
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		apiErrorsTotal.WithLabelValues(string(errClass)).Inc()
		apiRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Message:    "request failed",
			URL:        req.URL.String(),
			Err:        err,
		}
	}

	// Step 6: 304 Not Modified answers from cache
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		resp.Body.Close()
		apiRequestsTotal.WithLabelValues("304").Inc()
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")

		if err := c.cache.Refresh(ctx, cacheKey, cachedEntry, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return cache.EntryToResponse(cachedEntry, req), nil
	}

	status := strconv.Itoa(resp.StatusCode)
	apiRequestsTotal.WithLabelValues(status).Inc()

	// Step 7: Anything outside 2xx is fatal for the caller
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := c.classifyError(resp, nil)
		apiErrorsTotal.WithLabelValues(string(errClass)).Inc()

		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Storage API request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			URL:        req.URL.String(),
			Body:       string(excerpt),
		}
	}

	// Step 8: Update Cache on success
	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.cache.FallbackTTL())
		if err != nil {
			resp.Body.Close()
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read response body",
				URL:        req.URL.String(),
				Err:        err,
			}
		}
		if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// classifyError categorizes a failure for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ""
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}

func (c *Client) cacheKey(u *url.URL) cache.CacheKey {
	return cache.CacheKey{
		Host:        u.Host,
		Endpoint:    u.Path,
		QueryParams: u.Query(),
		Scope:       c.scope,
	}
}

// Get performs a GET request against an absolute URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// FetchPage fetches and decodes one page of the listing at target.
func (c *Client) FetchPage(ctx context.Context, target string, pageReq listing.PageRequest) (listing.Page, error) {
	base, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	pageURL := pageReq.URL(base)

	resp, err := c.Get(ctx, pageURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			URL:        base.String(),
			Err:        err,
		}
	}

	page, err := listing.DecodePage(body)
	if err != nil {
		// A 200 that is not a listing must not be replayed from cache.
		if c.cache != nil {
			if delErr := c.cache.Delete(ctx, c.cacheKey(pageURL)); delErr != nil {
				c.logger.Warn().Err(delErr).Msg("Failed to evict undecodable page")
			}
		}
		return nil, fmt.Errorf("decode page (offset %d): %w", pageReq.Offset, err)
	}

	return page, nil
}

// ParseTarget validates a listing target URL.
func ParseTarget(target string) (*url.URL, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTarget)
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https (got %q)", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	return u, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
