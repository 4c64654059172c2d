package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/storage-files-export/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultPageSize is the page size used when none is given.
const DefaultPageSize = 100

var (
	// ErrEmptyTarget is returned when FetchAll is called without a target URL.
	ErrEmptyTarget = errors.New("target is required")

	// ErrInvalidPageSize is returned for a negative page size.
	ErrInvalidPageSize = errors.New("page size must be positive")
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_export_pages_fetched_total",
		Help: "Total listing pages fetched",
	})

	itemsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_export_items_fetched_total",
		Help: "Total listing items fetched",
	})
)

// PageFetcher fetches a single page of a listing.
type PageFetcher interface {
	FetchPage(ctx context.Context, target string, req listing.PageRequest) (listing.Page, error)
}

// State is the state of a pagination run.
type State string

const (
	// StateFetching means requests are still being issued.
	StateFetching State = "fetching"

	// StateDone means the run ended, by a short page or by an error.
	StateDone State = "done"
)

// Stats describes a finished pagination run.
type Stats struct {
	Pages    int
	Items    int
	Duration time.Duration
	State    State
	Err      error
}

// Paginator fetches all pages of a listing, one request at a time.
type Paginator struct {
	fetcher PageFetcher
	logger  zerolog.Logger
}

// NewPaginator creates a new paginator.
func NewPaginator(fetcher PageFetcher, logger zerolog.Logger) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "paginator").Logger(),
	}
}

// FetchAll returns every item behind target. A pageSize of 0 selects
// DefaultPageSize. On error the returned collection is nil.
func (p *Paginator) FetchAll(ctx context.Context, target string, pageSize int) (listing.Collection, error) {
	items, _, err := p.FetchAllWithStats(ctx, target, pageSize)
	return items, err
}

// FetchAllWithStats is FetchAll that also reports how the run went.
func (p *Paginator) FetchAllWithStats(ctx context.Context, target string, pageSize int) (listing.Collection, Stats, error) {
	start := time.Now()
	stats := Stats{State: StateFetching}

	finish := func(err error) Stats {
		stats.State = StateDone
		stats.Duration = time.Since(start)
		stats.Err = err
		return stats
	}

	if target == "" {
		return nil, finish(ErrEmptyTarget), ErrEmptyTarget
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 0 {
		err := fmt.Errorf("%w (got %d)", ErrInvalidPageSize, pageSize)
		return nil, finish(err), err
	}

	p.logger.Info().
		Str("target", target).
		Int("page_size", pageSize).
		Msg("Starting listing fetch")

	items := listing.Collection{}
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("fetch cancelled at offset %d: %w", offset, err)
			return nil, finish(err), err
		}

		req := listing.PageRequest{
			Limit:       pageSize,
			Offset:      offset,
			ShowExpired: true,
		}

		page, err := p.fetcher.FetchPage(ctx, target, req)
		if err != nil {
			p.logger.Error().
				Err(err).
				Str("target", target).
				Int("offset", offset).
				Int("pages_fetched", stats.Pages).
				Msg("Page fetch failed - aborting")
			err = fmt.Errorf("fetch page at offset %d: %w", offset, err)
			return nil, finish(err), err
		}

		items = items.Append(page)
		stats.Pages++
		stats.Items = len(items)
		pagesFetchedTotal.Inc()
		itemsFetchedTotal.Add(float64(len(page)))

		p.logger.Debug().
			Int("offset", offset).
			Int("page_items", len(page)).
			Int("total_items", len(items)).
			Msg("Page fetched")

		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	stats = finish(nil)
	p.logger.Info().
		Str("target", target).
		Int("pages", stats.Pages).
		Int("items", stats.Items).
		Dur("duration", stats.Duration).
		Msg("Fetch complete")

	return items, stats, nil
}
