package scrape

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultCheckpointEvery is how many items pass between checkpoint writes.
const DefaultCheckpointEvery = 10

// ItemProgress is the checkpoint payload of an ItemTask.
type ItemProgress[I any] struct {
	Pending []I `json:"pending"`
	Done    int `json:"done"`
	Skipped []I `json:"skipped,omitempty"`
}

// ItemTask processes a list of work items and checkpoints the remaining list.
type ItemTask[I any] struct {
	TaskName string
	Registry *checkpoint.Registry

	// Every is the checkpoint interval in items. Defaults to DefaultCheckpointEvery.
	Every int

	// List builds the pending list on a fresh start.
	List func(ctx context.Context) ([]I, error)

	// Process fetches and persists one item. A remote logical error or a 403
	// skips the item; any other error stops the task.
	Process func(ctx context.Context, item I) error

	Logger *zerolog.Logger

	mu       sync.Mutex
	progress ItemProgress[I]
}

// Name implements runner.Task.
func (t *ItemTask[I]) Name() string {
	return t.TaskName
}

// Snapshot returns a copy of the current progress.
func (t *ItemTask[I]) Snapshot() any {
	return t.Progress()
}

// Progress returns a copy of the current progress.
func (t *ItemTask[I]) Progress() ItemProgress[I] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ItemProgress[I]{
		Pending: append([]I(nil), t.progress.Pending...),
		Done:    t.progress.Done,
		Skipped: append([]I(nil), t.progress.Skipped...),
	}
}

func (t *ItemTask[I]) logger() *zerolog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	l := log.With().Str("component", "scrape").Logger()
	return &l
}

// Run resumes from the checkpoint if one exists, otherwise lists the items,
// then processes every pending item. On success the checkpoint is deleted.
func (t *ItemTask[I]) Run(ctx context.Context) (err error) {
	logger := t.logger().With().Str("task", t.TaskName).Logger()
	every := t.Every
	if every <= 0 {
		every = DefaultCheckpointEvery
	}

	var saved ItemProgress[I]
	found, err := checkpoint.Load(ctx, t.Registry.Store(), t.TaskName, &saved)
	if err != nil {
		return err
	}
	if found {
		logger.Info().
			Int("pending", len(saved.Pending)).
			Int("done", saved.Done).
			Msg("Resuming from checkpoint")
	} else {
		items, err := t.List(ctx)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		saved = ItemProgress[I]{Pending: items}
		logger.Info().Int("pending", len(items)).Msg("Starting fresh")
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

	processed := 0
	for {
		item, ok := t.head()
		if !ok {
			break
		}

		if err := t.Process(ctx, item); err != nil {
			if !client.IsRemote(err) && !client.Forbidden(err) {
				return err
			}
			logger.Warn().Err(err).Interface("item", item).Msg("Skipping item")
			t.skip()
		} else {
			t.pop()
		}

		processed++
		if processed%every == 0 {
			if err := sess.Flush(ctx); err != nil {
				logger.Warn().Err(err).Msg("Checkpoint write failed")
			}
			p := t.Progress()
			logger.Debug().
				Int("done", p.Done).
				Int("pending", len(p.Pending)).
				Msg("Checkpoint written")
		}
	}

	p := t.Progress()
	logger.Info().
		Int("done", p.Done).
		Int("skipped", len(p.Skipped)).
		Msg("All items processed")
	return sess.Complete(ctx)
}

func (t *ItemTask[I]) head() (I, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero I
	if len(t.progress.Pending) == 0 {
		return zero, false
	}
	return t.progress.Pending[0], true
}

func (t *ItemTask[I]) pop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Pending = t.progress.Pending[1:]
	t.progress.Done++
}

func (t *ItemTask[I]) skip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Skipped = append(t.progress.Skipped, t.progress.Pending[0])
	t.progress.Pending = t.progress.Pending[1:]
}
