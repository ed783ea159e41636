package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// SnapshotFunc returns the current progress of a task. It is called from
// whichever goroutine flushes, so it must take the task's own lock.
type SnapshotFunc func() any

// Registry tracks active checkpoint sessions.
type Registry struct {
	store  Store
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// NewRegistry creates a registry writing to store.
func NewRegistry(store Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		active: make(map[string]*Session),
	}
}

// Store returns the underlying store.
func (r *Registry) Store() Store {
	return r.store
}

// Begin registers snapshot as the progress source for task. A second Begin
// for the same task before Release fails with ErrSessionActive.
func (r *Registry) Begin(ctx context.Context, task string, snapshot SnapshotFunc) (*Session, error) {
	if task == "" {
		return nil, errEmptyTask
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot func cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[task]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, task)
	}
	s := &Session{registry: r, task: task, snapshot: snapshot}
	r.active[task] = s

	r.logger.Debug().Str("task", task).Msg("Checkpoint session started")
	return s, nil
}

// Active returns the task names of all active sessions, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]string, 0, len(r.active))
	for task := range r.active {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}

// FlushAll writes the current snapshot of every active session. Failures are
// logged and joined; every session is attempted.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		err := s.Flush(ctx)
		if errors.Is(err, ErrReleased) {
			continue
		}
		if err != nil {
			r.logger.Error().Err(err).Str("task", s.task).Msg("Checkpoint flush failed")
			errs = append(errs, err)
			continue
		}
		r.logger.Info().Str("task", s.task).Msg("Checkpoint flushed")
	}
	return errors.Join(errs...)
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[s.task] == s {
		delete(r.active, s.task)
	}
}

// Session is one task's registration with the registry.
type Session struct {
	registry *Registry
	task     string
	snapshot SnapshotFunc

	mu       sync.Mutex
	released bool
}

// Task returns the task name.
func (s *Session) Task() string {
	return s.task
}

// Flush writes the current snapshot.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	return Save(ctx, s.registry.store, s.task, s.snapshot())
}

// Release deregisters the session. The checkpoint stays in place. Calling
// Release more than once is a no-op.
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.registry.remove(s)
	s.registry.logger.Debug().Str("task", s.task).Msg("Checkpoint session released")
}

// End releases the session at the end of a run. When the run failed, the
// current snapshot is written first, so the checkpoint holds the last progress
// even though the runner's FlushAll will no longer see this session. The write
// ignores cancellation of ctx.
func (s *Session) End(ctx context.Context, runErr error) error {
	var err error
	if runErr != nil {
		err = s.Flush(context.WithoutCancel(ctx))
		if errors.Is(err, ErrReleased) {
			err = nil
		}
		if err != nil {
			s.registry.logger.Error().Err(err).Str("task", s.task).Msg("Checkpoint flush on failure failed")
		}
	}
	s.Release()
	return err
}

// Complete deletes the checkpoint of a finished task and releases the session.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.released = true
	err := s.registry.store.Delete(ctx, s.task)
	s.mu.Unlock()

	s.registry.remove(s)
	if err != nil {
		return fmt.Errorf("complete %s: %w", s.task, err)
	}
	s.registry.logger.Info().Str("task", s.task).Msg("Task complete, checkpoint cleared")
	return nil
}
