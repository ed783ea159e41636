package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func testPolicy(maxAttempts int, s *fakeSleep) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       5 * time.Second,
		Sleep:       s.sleep,
		Logger:      zerolog.Nop(),
	}
}

func rateLimited() error {
	return &RequestError{Endpoint: "x", StatusCode: 429, ErrorClass: ErrorClassRateLimit}
}

func TestRetry_SucceedsWithinBudget(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
	}{
		{"no failures", 3, 0},
		{"one failure", 3, 1},
		{"exactly budget", 3, 3},
		{"unbounded", 0, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSleep{}
			p := testPolicy(tt.maxAttempts, s)

			calls := 0
			err := p.Do(context.Background(), "x", "1", func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return rateLimited()
				}
				return nil
			})

			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if calls != tt.failures+1 {
				t.Errorf("calls = %d, want %d", calls, tt.failures+1)
			}
			if len(s.delays) != tt.failures {
				t.Errorf("sleeps = %d, want %d", len(s.delays), tt.failures)
			}
			for _, d := range s.delays {
				if d != 5*time.Second {
					t.Errorf("delay = %v, want 5s", d)
				}
			}
		})
	}
}

func TestRetry_Exhausted(t *testing.T) {
	s := &fakeSleep{}
	p := testPolicy(3, s)

	calls := 0
	err := p.Do(context.Background(), "x", "1", func(context.Context) error {
		calls++
		return rateLimited()
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
	if !IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if len(s.delays) != 3 {
		t.Errorf("sleeps = %d, want 3", len(s.delays))
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != 429 {
		t.Errorf("exhaustion should wrap the last failure, got %v", err)
	}
}

func TestRetry_RetryableClasses(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limit", rateLimited()},
		{"upstream timeout", &RequestError{StatusCode: 524, ErrorClass: ErrorClassUpstreamTimeout}},
		{"dns", &RequestError{ErrorClass: ErrorClassNetwork, Err: &net.DNSError{Err: "no such host"}}},
		{"raw dns", &net.DNSError{Err: "no such host"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSleep{}
			p := testPolicy(5, s)

			calls := 0
			err := p.Do(context.Background(), "x", "", func(context.Context) error {
				calls++
				if calls == 1 {
					return tt.err
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if calls != 2 {
				t.Errorf("calls = %d, want 2", calls)
			}
		})
	}
}

func TestRetry_FatalNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		forbidden bool
	}{
		{"forbidden", &RequestError{StatusCode: 403, ErrorClass: ErrorClassForbidden}, true},
		{"not found", &RequestError{StatusCode: 404, ErrorClass: ErrorClassClient}, false},
		{"server error", &RequestError{StatusCode: 500, ErrorClass: ErrorClassServer}, false},
		{"fatal", errors.New("tls handshake failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSleep{}
			p := testPolicy(3, s)

			calls := 0
			err := p.Do(context.Background(), "x", "", func(context.Context) error {
				calls++
				return tt.err
			})

			if err == nil {
				t.Fatal("expected error")
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if len(s.delays) != 0 {
				t.Errorf("sleeps = %d, want 0", len(s.delays))
			}
			if IsUnrecoverable(err) {
				t.Error("fatal single failure should not be unrecoverable")
			}
			if got := errors.Is(err, ErrForbidden); got != tt.forbidden {
				t.Errorf("errors.Is(ErrForbidden) = %v, want %v", got, tt.forbidden)
			}
		})
	}
}

func TestRetry_ConfiguredStatuses(t *testing.T) {
	s := &fakeSleep{}
	p := testPolicy(2, s)
	p.RetryableStatuses = []int{503}

	calls := 0
	err := p.Do(context.Background(), "x", "", func(context.Context) error {
		calls++
		if calls == 1 {
			return &RequestError{StatusCode: 503, ErrorClass: ErrorClassServer}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_ZeroDelayDoesNotSleep(t *testing.T) {
	s := &fakeSleep{}
	p := testPolicy(3, s)
	p.Delay = 0

	calls := 0
	err := p.Do(context.Background(), "x", "", func(context.Context) error {
		calls++
		if calls < 3 {
			return rateLimited()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(s.delays) != 0 {
		t.Errorf("sleeps = %d, want 0", len(s.delays))
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSleep{}
	p := testPolicy(0, s)

	calls := 0
	err := p.Do(ctx, "x", "", func(context.Context) error {
		calls++
		cancel()
		return rateLimited()
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("expected ErrContextCancelled, got %v", err)
	}
	if IsUnrecoverable(err) {
		t.Error("cancellation should not be unrecoverable")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextErrorFromCall(t *testing.T) {
	p := testPolicy(3, &fakeSleep{})

	err := p.Do(context.Background(), "x", "", func(context.Context) error {
		return context.DeadlineExceeded
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("expected ErrContextCancelled, got %v", err)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext should return immediately on cancelled context")
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unbounded)", p.MaxAttempts)
	}
	if p.Delay != DefaultRetryDelay {
		t.Errorf("Delay = %v, want %v", p.Delay, DefaultRetryDelay)
	}
}
