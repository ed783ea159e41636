package scrape

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PagedProgress is the checkpoint payload of a PagedTask. Items holds the
// collected items only when the task keeps them in memory.
type PagedProgress[T any] struct {
	NextPage int `json:"next_page"`
	Count    int `json:"count"`
	Items    []T `json:"items,omitempty"`
}

// PagedTask walks a paged listing with resume support. The checkpoint is
// written after every page.
type PagedTask[T any] struct {
	TaskName string
	Registry *checkpoint.Registry

	Mode     pagination.Mode
	MaxPages int

	Fetch pagination.FetchFunc[T]

	// Store persists one page of items. When nil the items accumulate in the
	// progress and are available from Items after Run.
	Store func(ctx context.Context, page int, items []T) error

	Logger *zerolog.Logger

	mu       sync.Mutex
	progress PagedProgress[T]
}

// Name implements runner.Task.
func (t *PagedTask[T]) Name() string {
	return t.TaskName
}

// Snapshot returns a copy of the current progress.
func (t *PagedTask[T]) Snapshot() any {
	return t.Progress()
}

// Progress returns a copy of the current progress.
func (t *PagedTask[T]) Progress() PagedProgress[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return PagedProgress[T]{
		NextPage: t.progress.NextPage,
		Count:    t.progress.Count,
		Items:    append([]T(nil), t.progress.Items...),
	}
}

// Items returns the collected items when Store is nil.
func (t *PagedTask[T]) Items() []T {
	return t.Progress().Items
}

func (t *PagedTask[T]) logger() *zerolog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	l := log.With().Str("component", "scrape").Logger()
	return &l
}

// Run walks the listing from the checkpointed page, or page 1. A remote
// error on a page ends the task with what was collected.
func (t *PagedTask[T]) Run(ctx context.Context) (err error) {
	logger := t.logger().With().Str("task", t.TaskName).Logger()

	saved := PagedProgress[T]{NextPage: 1}
	found, err := checkpoint.Load(ctx, t.Registry.Store(), t.TaskName, &saved)
	if err != nil {
		return err
	}
	if saved.NextPage < 1 {
		saved.NextPage = 1
	}
	if found {
		logger.Info().
			Int("next_page", saved.NextPage).
			Int("count", saved.Count).
			Msg("Resuming from checkpoint")
	}
	t.mu.Lock()
	t.progress = saved
	t.mu.Unlock()

	sess, err := t.Registry.Begin(ctx, t.TaskName, t.Snapshot)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			sess.End(ctx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		sess.End(ctx, err)
	}()

	cfg := pagination.Config{
		Name:      t.TaskName,
		Mode:      t.Mode,
		StartPage: saved.NextPage,
		MaxPages:  t.MaxPages,
	}
	res, err := pagination.Walk(ctx, cfg, t.Fetch, func(page int, items []T) error {
		if t.Store != nil {
			if err := t.Store(ctx, page, items); err != nil {
				return err
			}
		}
		t.mu.Lock()
		t.progress.NextPage = page + 1
		t.progress.Count += len(items)
		if t.Store == nil {
			t.progress.Items = append(t.progress.Items, items...)
		}
		t.mu.Unlock()

		if err := sess.Flush(ctx); err != nil {
			logger.Warn().Err(err).Int("page", page).Msg("Checkpoint write failed")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !res.Done && res.RemoteErr == nil {
		// Page cap reached; keep the checkpoint for the next run.
		logger.Info().Int("next_page", res.NextPage).Msg("Stopped at page cap")
		return nil
	}

	logger.Info().
		Int("count", t.Progress().Count).
		Int("pages", res.Pages).
		Msg("Listing complete")
	return sess.Complete(ctx)
}
