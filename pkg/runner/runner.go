// Package runner runs scrape tasks one after another and owns process
// shutdown. An interrupt signal, an unrecoverable failure, any other task
// error and a task panic all take the same path: flush every active
// checkpoint, then exit.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/Sternrassler/sitebackup/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitInterrupted = 0
	ExitFault       = 1
)

// DefaultFlushTimeout bounds the final checkpoint flush.
const DefaultFlushTimeout = 10 * time.Second

// ErrPanic wraps a recovered task panic.
var ErrPanic = errors.New("task panicked")

// Task is one unit of scraping work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(context.Context) error
}

func (t funcTask) Name() string                  { return t.name }
func (t funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// Func adapts a function to a Task.
func Func(name string, fn func(context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

// Flusher writes every active checkpoint. *checkpoint.Registry implements it.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// Runner runs tasks and performs shutdown exactly once.
type Runner struct {
	flusher      Flusher
	exit         func(int)
	signals      <-chan os.Signal
	flushTimeout time.Duration
	logger       zerolog.Logger

	once sync.Once
	code int
}

// Option configures a Runner.
type Option func(*Runner)

// WithExit replaces os.Exit.
func WithExit(exit func(int)) Option {
	return func(r *Runner) {
		r.exit = exit
	}
}

// WithSignals replaces the SIGINT/SIGTERM subscription.
func WithSignals(ch <-chan os.Signal) Option {
	return func(r *Runner) {
		r.signals = ch
	}
}

// WithFlushTimeout bounds the final flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.flushTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// New creates a runner that flushes through flusher on shutdown.
func New(flusher Flusher, opts ...Option) *Runner {
	r := &Runner{
		flusher:      flusher,
		exit:         os.Exit,
		flushTimeout: DefaultFlushTimeout,
		logger:       log.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes tasks in order and returns the exit code. On interrupt or
// failure it flushes checkpoints and calls the exit function before
// returning; a clean run returns ExitOK without calling it. The in-flight
// task is abandoned, not drained.
func (r *Runner) Run(ctx context.Context, tasks ...Task) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := r.signals
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigs = ch
	}

	done := make(chan error, 1)
	go func() {
		done <- r.runAll(ctx, tasks)
	}()

	select {
	case sig := <-sigs:
		r.logger.Warn().Str("signal", sig.String()).Msg("Interrupted, flushing checkpoints")
		return r.Shutdown(ExitInterrupted)
	case err := <-done:
		if err == nil {
			r.logger.Info().Int("tasks", len(tasks)).Msg("All tasks complete")
			return ExitOK
		}
		if client.IsUnrecoverable(err) {
			logging.Critical(&r.logger).Err(err).Msg("Unrecoverable failure, flushing checkpoints")
		} else {
			r.logger.Error().Err(err).Msg("Task failed, flushing checkpoints")
		}
		return r.Shutdown(ExitFault)
	}
}

// Shutdown flushes every active checkpoint and exits with code. Only the first
// call has any effect; later calls return the first code.
func (r *Runner) Shutdown(code int) int {
	r.once.Do(func() {
		r.code = code
		ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
		defer cancel()
		if r.flusher != nil {
			if err := r.flusher.FlushAll(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Checkpoint flush incomplete")
			}
		}
		r.logger.Info().Int("exit_code", code).Msg("Shutting down")
		r.exit(code)
	})
	return r.code
}

func (r *Runner) runAll(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		start := time.Now()
		r.logger.Info().Str("task", t.Name()).Msg("Task started")
		if err := r.runTask(ctx, t); err != nil {
			return fmt.Errorf("task %s: %w", t.Name(), err)
		}
		r.logger.Info().
			Str("task", t.Name()).
			Dur("duration", time.Since(start)).
			Msg("Task finished")
	}
	return nil
}

func (r *Runner) runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return t.Run(ctx)
}
