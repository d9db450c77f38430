// Package control implements C6: dispatch of non-keying messages
// (ATU trigger, stats) and session lifecycle, plus the shared watchdog
// primitive the server keyer uses for its fail-safe (§4.5).
package control

import (
	"sync"
	"time"
)

// Watchdog fires onTrip if it is not Reset within timeout of the last
// Reset (or of construction). It is the generic form of §3's "output line
// is key-up whenever more than 10 s have elapsed since the last observed
// key-down edge without an intervening key-up", extracted so both the
// keyer's line safety and any future timed-fail-safe can share one
// implementation.
type Watchdog struct {
	timeout time.Duration
	onTrip  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewWatchdog creates a running Watchdog. onTrip runs on its own
// goroutine (time.AfterFunc semantics) so it must not block.
func NewWatchdog(timeout time.Duration, onTrip func()) *Watchdog {
	w := &Watchdog{timeout: timeout, onTrip: onTrip}
	w.timer = time.AfterFunc(timeout, w.fire)
	return w
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.onTrip()
}

// Reset restarts the countdown, as called on every executed key-down and
// key-up edge (§4.5).
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog permanently, used on session teardown where
// §4.5 requires "any asserted line is released immediately" rather than
// waiting out the timer.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}
