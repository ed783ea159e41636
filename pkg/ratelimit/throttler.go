package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttling.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitebackup_throttle_wait_seconds",
		Help:    "Time spent waiting for the throttle window",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1},
	})

	throttledCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitebackup_throttled_calls_total",
		Help: "Total number of calls that passed through the throttle",
	})
)

// Throttler serializes call starts so that consecutive starts are at least
// Spacing apart. The lock is held across the wait, so concurrent callers queue
// up behind each other instead of all sleeping the same duration and firing
// together.
type Throttler struct {
	mu     sync.Mutex
	window RateWindow
	now    func() time.Time
	logger zerolog.Logger
}

// NewThrottler creates a Throttler. A zero spacing disables waiting; calls
// are still serialized. A negative spacing falls back to DefaultSpacing.
func NewThrottler(spacing time.Duration, logger zerolog.Logger) *Throttler {
	if spacing < 0 {
		spacing = DefaultSpacing
	}
	return &Throttler{
		window: RateWindow{Spacing: spacing},
		now:    time.Now,
		logger: logger,
	}
}

// Wait blocks until the caller may start its call, records the start and
// returns it. Granted starts are always at least Spacing apart.
func (t *Throttler) Wait(ctx context.Context) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.window.WaitFor(t.now()); wait > 0 {
		throttleWaitSeconds.Observe(wait.Seconds())
		t.logger.Debug().Dur("wait", wait).Msg("Throttling call")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}

	start := t.now()
	t.window.LastCall = start
	throttledCallsTotal.Inc()
	return start, nil
}

// Window returns a copy of the current window.
func (t *Throttler) Window() RateWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window
}

// Throttle runs fn once the window allows it.
func Throttle[R any](ctx context.Context, t *Throttler, fn func(context.Context) (R, error)) (R, error) {
	if _, err := t.Wait(ctx); err != nil {
		var zero R
		return zero, err
	}
	return fn(ctx)
}
