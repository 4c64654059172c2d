// Package pagination walks offset-paginated listing endpoints.
//
// The storage API has no total-count header, so the end of a listing is only
// known when a page comes back shorter than the requested limit. Pages are
// therefore fetched strictly one after another:
//
//	paginator := pagination.NewPaginator(apiClient, logger)
//	items, err := paginator.FetchAll(ctx, "https://connection.keboola.com/v2/storage/files", 100)
//
// The paginator:
//   - Requests offsets 0, limit, 2*limit, ... with showExpired=true
//   - Appends every item in request order
//   - Stops on the first page holding fewer than limit items
//   - Aborts on the first failed page and returns no partial result
package pagination
