package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached listing page.
type CacheKey struct {
	// Host of the storage API stack (e.g. "connection.eu-central-1.keboola.com")
	Host string

	// Endpoint is the listing path (e.g. "/v2/storage/files")
	Endpoint string

	// QueryParams including limit, offset and showExpired
	QueryParams url.Values

	// Scope separates credentials, since each token sees its own project.
	// Empty for unauthenticated requests.
	Scope string
}

// String generates a deterministic cache key string.
// Format: sapi:host/endpoint:query1=val1:query2=val2:scope=abcd
//
// Example:
//
//	sapi:connection.keboola.com/v2/storage/files:limit=100:offset=0:showExpired=true:scope=9f86d081884c7d65
func (k CacheKey) String() string {
	parts := []string{"sapi"}

	target := strings.Trim(k.Host+"/"+strings.Trim(k.Endpoint, "/"), "/")
	if target != "" {
		parts = append(parts, target)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}

// ScopeFromHeaders derives a cache scope from credential headers without
// storing the secrets themselves.
func ScopeFromHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return ""
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, strings.Join(headers.Values(name), ","))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
