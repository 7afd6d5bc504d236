package pool

import (
	"sync"
	"time"

	"lsp-pool/src/internal/constants"
)

// RestartTracker bounds crash-restart attempts for one pool slot within a
// rolling time window and computes the backoff delay for the next attempt.
// The pool resets it whenever the slot's client completes initialization.
type RestartTracker struct {
	mu          sync.Mutex
	maxRestarts int
	window      time.Duration
	attempts    []time.Time
}

// NewRestartTracker creates a tracker allowing maxRestarts attempts per
// rolling window.
func NewRestartTracker(maxRestarts int, window time.Duration) *RestartTracker {
	return &RestartTracker{
		maxRestarts: maxRestarts,
		window:      window,
	}
}

// CanRestart reports whether the attempt count within the trailing window
// is still below the maximum.
func (t *RestartTracker) CanRestart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(time.Now())
	return len(t.attempts) < t.maxRestarts
}

// RecordRestart appends the current timestamp to the attempt history.
func (t *RestartTracker) RecordRestart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.prune(now)
	t.attempts = append(t.attempts, now)
}

// BackoffDelay returns the delay before the next restart attempt. The
// delay doubles with each attempt in the window, capped at the maximum;
// it is recomputed fresh from the attempt history on every call.
func (t *RestartTracker) BackoffDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(time.Now())
	delay := constants.InitialRestartBackoff
	for i := 1; i < len(t.attempts); i++ {
		delay *= 2
		if delay >= constants.MaxRestartBackoff {
			return constants.MaxRestartBackoff
		}
	}
	return delay
}

// Reset clears the attempt history. Called by the pool exactly once per
// successful initialization.
func (t *RestartTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = t.attempts[:0]
}

// prune drops attempts that fell out of the rolling window. Caller holds
// the lock.
func (t *RestartTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.attempts[:0]
	for _, ts := range t.attempts {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.attempts = kept
}
