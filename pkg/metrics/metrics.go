// Package metrics documents the Prometheus metrics of the storage files
// export and pushes them to a Pushgateway at the end of a batch run.
// Metrics are defined in their respective packages (client, pagination,
// cache, export) to avoid circular dependencies.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultJob is the Pushgateway job name.
const DefaultJob = "storage_files_export"

// Push sends every metric of the default gatherer, where promauto registers
// them, to the Pushgateway at url. It replaces the previous push of the same
// job. Extra grouping labels distinguish instances, e.g. {"target": "eu-central-1"}.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}

	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - files_export_requests_total{status} (Counter): requests by HTTP status, "cached", "304", "network_error"
//   - files_export_request_duration_seconds{endpoint} (Histogram): request duration
//   - files_export_errors_total{class} (Counter): errors by class (client, server, rate_limit, unexpected, network)
//
// Pagination Metrics (pkg/pagination):
//   - files_export_pages_fetched_total (Counter): pages fetched
//   - files_export_items_fetched_total (Counter): items fetched
//
// Cache Metrics (pkg/cache):
//   - files_export_cache_hits_total (Counter)
//   - files_export_cache_misses_total (Counter)
//   - files_export_cache_size_bytes (Gauge)
//   - files_export_conditional_requests_total (Counter)
//   - files_export_304_responses_total (Counter)
//   - files_export_cache_errors_total{operation} (Counter)
//
// Export Metrics (pkg/export):
//   - files_export_rows_written_total (Counter): data rows written
//
// Example Prometheus Queries:
//
//   # Items exported by the last run
//   files_export_items_fetched_total{job="storage_files_export"}
//
//   # Failed runs by error class
//   files_export_errors_total
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(files_export_request_duration_seconds_bucket[1h]))
