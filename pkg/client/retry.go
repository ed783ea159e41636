package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Sternrassler/sitebackup/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_retry_exhausted_total",
		Help: "Total number of times the retry budget was exhausted by error class",
	}, []string{"error_class"})
)

// DefaultRetryDelay is the fixed wait between attempts.
const DefaultRetryDelay = 5 * time.Second

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy retries transient failures with a fixed delay.
type RetryPolicy struct {
	// MaxAttempts is how many transient failures are tolerated before the
	// budget is exhausted. 0 means unbounded.
	MaxAttempts int

	// Delay is the fixed wait after each transient failure. 0 disables waiting.
	Delay time.Duration

	// RetryableStatuses are extra HTTP statuses treated as transient on top
	// of 429 and 524.
	RetryableStatuses []int

	// Sleep is used for waiting; defaults to a context-aware timer.
	Sleep SleepFunc

	Logger zerolog.Logger
}

// DefaultRetryPolicy returns the default retry policy: unbounded attempts,
// 5s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		Delay:       DefaultRetryDelay,
		Logger:      log.With().Str("component", "retry").Logger(),
	}
}

func (p *RetryPolicy) budget() int {
	if p.MaxAttempts <= 0 {
		return math.MaxInt
	}
	return p.MaxAttempts
}

func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// Retryable reports whether err is transient under this policy.
func (p *RetryPolicy) Retryable(err error) (ErrorClass, bool) {
	class := ClassifyError(err)
	if shouldRetry(class) {
		return class, true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode != 0 && slices.Contains(p.RetryableStatuses, reqErr.StatusCode) {
		return class, true
	}
	return class, false
}

// Do runs fn until it succeeds, fails fatally, or the retry budget is
// exhausted. Exhaustion returns an error wrapping both ErrRetryExhausted and
// ErrUnrecoverable; it is not meant to be handled by the call site.
func (p *RetryPolicy) Do(ctx context.Context, endpoint, id string, fn func(context.Context) error) error {
	attempts := 0
	budget := p.budget()

	for {
		err := fn(ctx)
		if err == nil {
			if attempts > 0 {
				p.Logger.Info().
					Str("endpoint", endpoint).
					Str("correlation_id", id).
					Int("attempt", attempts+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		class, retry := p.Retryable(err)
		if !retry {
			event := p.Logger.Error()
			msg := "Request failed"
			if class == ErrorClassForbidden {
				event = p.Logger.Warn()
				msg = "Resource forbidden"
			}
			event.Err(err).
				Str("endpoint", endpoint).
				Str("correlation_id", id).
				Str("error_class", string(class)).
				Msg(msg)
			return err
		}

		attempts++
		if attempts > budget {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			logging.Critical(&p.Logger).Err(err).
				Str("endpoint", endpoint).
				Str("correlation_id", id).
				Int("max_attempts", p.MaxAttempts).
				Msg("Retry attempts exhausted, giving up")
			return fmt.Errorf("%w: %w after %d attempts: %w", ErrUnrecoverable, ErrRetryExhausted, attempts, err)
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		logging.Critical(&p.Logger).Err(err).
			Str("endpoint", endpoint).
			Str("correlation_id", id).
			Str("error_class", string(class)).
			Int("attempt", attempts).
			Dur("delay", p.Delay).
			Msg("Transient failure, retrying after delay")

		if p.Delay > 0 {
			if err := p.sleep(ctx, p.Delay); err != nil {
				p.Logger.Warn().
					Str("endpoint", endpoint).
					Int("attempt", attempts).
					Msg("Context cancelled during retry delay")
				return fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
