// Package ratelimit enforces a minimum spacing between calls to
// throttle-sensitive endpoints (ad-hoc HTML pages and file downloads fronted by
// bot mitigation). The primary JSON-RPC endpoint is not routed through here;
// it relies on 429 backoff in the retry policy instead.
package ratelimit

import (
	"time"
)

// DefaultSpacing is the minimum gap between two throttled calls.
const DefaultSpacing = 25 * time.Millisecond

// RateWindow is the shared throttle state: when the last call was let
// through and how far apart calls must be.
type RateWindow struct {
	// LastCall is when the most recent throttled call started.
	LastCall time.Time `json:"last_call"`

	// Spacing is the minimum time between call starts.
	Spacing time.Duration `json:"spacing"`
}

// WaitFor returns how long a call starting at now must wait.
// Returns 0 if the window is already open.
func (w *RateWindow) WaitFor(now time.Time) time.Duration {
	if w.LastCall.IsZero() {
		return 0
	}
	wait := w.LastCall.Add(w.Spacing).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
