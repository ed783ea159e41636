package pagination

import (
	"context"
	"time"

	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sitebackup_pages_fetched_total",
	Help: "Total number of pages fetched by the pagination driver",
})

// Mode selects how the end of a paged listing is detected.
type Mode int

const (
	// ModeTotalPages stops once the reported total page count is reached.
	ModeTotalPages Mode = iota

	// ModeUntilEmpty stops at the first page without items.
	ModeUntilEmpty
)

// String returns the config name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeUntilEmpty:
		return "until_empty"
	default:
		return "total_pages"
	}
}

// ParseMode maps a config name to a Mode. Unknown names report false.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "total_pages":
		return ModeTotalPages, true
	case "until_empty":
		return ModeUntilEmpty, true
	default:
		return ModeTotalPages, false
	}
}

// Page is one fetched page. TotalPages is ignored in ModeUntilEmpty.
type Page[T any] struct {
	Items      []T
	TotalPages int
}

// FetchFunc fetches one page, numbered from 1.
type FetchFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// VisitFunc receives the items of each page in order. Returning an error
// stops the walk with that error.
type VisitFunc[T any] func(page int, items []T) error

// Config holds walk configuration.
type Config struct {
	// Name labels log lines, usually the task or method.
	Name string

	Mode Mode

	// StartPage is the first page to fetch. Defaults to 1.
	StartPage int

	// MaxPages caps the number of pages fetched in one walk. 0 means no cap.
	MaxPages int
}

// Result summarizes a walk.
type Result struct {
	// Pages is the number of pages fetched in this walk.
	Pages int

	// NextPage is the page a resumed walk should start at.
	NextPage int

	// Done reports that the listing was exhausted.
	Done bool

	// RemoteErr is the remote logical error that stopped the walk, if any.
	RemoteErr error
}

// Walk fetches pages sequentially from cfg.StartPage and hands each page's
// items to visit.
func Walk[T any](ctx context.Context, cfg Config, fetch FetchFunc[T], visit VisitFunc[T]) (Result, error) {
	start := time.Now()
	page := cfg.StartPage
	if page < 1 {
		page = 1
	}
	res := Result{NextPage: page}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if cfg.MaxPages > 0 && res.Pages >= cfg.MaxPages {
			log.Warn().
				Str("name", cfg.Name).
				Int("max_pages", cfg.MaxPages).
				Int("next_page", page).
				Msg("Page cap reached, stopping walk")
			return res, nil
		}

		p, err := fetch(ctx, page)
		if err != nil {
			if client.IsRemote(err) {
				log.Warn().
					Err(err).
					Str("name", cfg.Name).
					Int("page", page).
					Msg("Remote error, returning partial results")
				res.RemoteErr = err
				return res, nil
			}
			return res, err
		}
		res.Pages++
		pagesFetchedTotal.Inc()

		if cfg.Mode == ModeUntilEmpty && len(p.Items) == 0 {
			res.Done = true
			break
		}

		if visit != nil {
			if err := visit(page, p.Items); err != nil {
				return res, err
			}
		}
		res.NextPage = page + 1

		if cfg.Mode == ModeTotalPages && page >= p.TotalPages {
			res.Done = true
			break
		}
		page++
	}

	log.Debug().
		Str("name", cfg.Name).
		Int("pages", res.Pages).
		Dur("duration", time.Since(start)).
		Msg("Walk complete")
	return res, nil
}

// CollectAllPages fetches every page of a listing that reports its total
// page count and returns all items.
func CollectAllPages[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	return collect(ctx, Config{Mode: ModeTotalPages}, fetch)
}

// CollectUntilEmpty fetches pages until one comes back empty and returns all
// items.
func CollectUntilEmpty[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	return collect(ctx, Config{Mode: ModeUntilEmpty}, fetch)
}

func collect[T any](ctx context.Context, cfg Config, fetch FetchFunc[T]) ([]T, error) {
	var all []T
	_, err := Walk(ctx, cfg, fetch, func(_ int, items []T) error {
		all = append(all, items...)
		return nil
	})
	return all, err
}
