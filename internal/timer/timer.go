// Package timer provides injectable clocks, timers and the debounce/throttle
// combinators used by the collector and the site adapters.
package timer

import "time"

// Handle allows stopping a scheduled callback.
type Handle interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. Returns a handle to cancel.
type AfterFunc func(d time.Duration, f func()) Handle

// realHandle wraps *time.Timer to implement Handle.
type realHandle struct {
	timer *time.Timer
}

func (h *realHandle) Stop() bool {
	return h.timer.Stop()
}

// DefaultAfterFunc uses the standard library's time.AfterFunc.
var DefaultAfterFunc AfterFunc = func(d time.Duration, f func()) Handle {
	return &realHandle{timer: time.AfterFunc(d, f)}
}

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock reads the wall clock.
var DefaultClock Clock = realClock{}
