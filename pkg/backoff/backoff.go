// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backoff

import (
	"sync"
	"time"

	"github.com/luxfi/rewards/pkg/timeutil"
)

// Timer schedules retries with exponentially increasing delay. It refuses to
// run two instances concurrently: Start while a callback is pending is a
// no-op returning false.
type Timer struct {
	clock timeutil.Clock
	base  time.Duration
	cap   time.Duration

	mu      sync.Mutex
	next    time.Duration
	pending timeutil.Timer
}

// NewTimer creates a backoff timer. Delay starts at base and doubles on each
// Start up to cap. A cap of zero means the delay never grows.
func NewTimer(clock timeutil.Clock, base, cap time.Duration) *Timer {
	return &Timer{clock: clock, base: base, cap: cap, next: base}
}

// Start arms the timer and returns the delay after which f will run. The
// second return is false if a callback was already pending and nothing was
// armed.
func (t *Timer) Start(f func()) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return 0, false
	}

	delay := t.next
	if t.cap > 0 && t.next < t.cap {
		t.next *= 2
		if t.next > t.cap {
			t.next = t.cap
		}
	}

	t.pending = t.clock.AfterFunc(delay, func() {
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()
		f()
	})
	return delay, true
}

// Stop cancels any pending callback and resets the delay to base.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.next = t.base
}

// IsRunning reports whether a callback is pending.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
