package timer

import (
	"sync"
	"time"
)

// Debouncer delays fn until no call has happened for the configured window.
// Only the trailing edge fires, with the argument of the latest call.
type Debouncer[T any] struct {
	mu      sync.Mutex
	after   AfterFunc
	wait    time.Duration
	fn      func(T)
	handle  Handle
	pending T
}

// Debounce returns a trailing-edge debouncer. A non-positive wait calls fn directly.
func Debounce[T any](af AfterFunc, wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{after: af, wait: wait, fn: fn}
}

// Call records v and restarts the quiet window.
func (d *Debouncer[T]) Call(v T) {
	if d.wait <= 0 {
		d.fn(v)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		d.handle.Stop()
	}
	d.pending = v
	d.handle = d.after(d.wait, d.fire)
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if d.handle == nil {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.handle = nil
	d.mu.Unlock()
	d.fn(v)
}

// Cancel drops a pending call, if any.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		d.handle.Stop()
		d.handle = nil
	}
}

// Throttler runs fn at most once per window. The first call in a window runs
// immediately (leading edge); later calls in the same window collapse into one
// trailing call carrying the latest argument.
type Throttler[T any] struct {
	mu       sync.Mutex
	after    AfterFunc
	interval time.Duration
	fn       func(T)
	window   Handle
	pending  *T
}

// Throttle returns a leading+trailing throttler. A non-positive interval calls fn directly.
func Throttle[T any](af AfterFunc, interval time.Duration, fn func(T)) *Throttler[T] {
	return &Throttler[T]{after: af, interval: interval, fn: fn}
}

// Call runs fn now or schedules it for the end of the current window.
func (t *Throttler[T]) Call(v T) {
	if t.interval <= 0 {
		t.fn(v)
		return
	}
	t.mu.Lock()
	if t.window != nil {
		t.pending = &v
		t.mu.Unlock()
		return
	}
	t.window = t.after(t.interval, t.windowEnd)
	t.mu.Unlock()
	t.fn(v)
}

func (t *Throttler[T]) windowEnd() {
	t.mu.Lock()
	if t.window == nil {
		t.mu.Unlock()
		return
	}
	if t.pending == nil {
		t.window = nil
		t.mu.Unlock()
		return
	}
	v := *t.pending
	t.pending = nil
	t.window = t.after(t.interval, t.windowEnd)
	t.mu.Unlock()
	t.fn(v)
}

// Cancel drops the trailing call and closes the window.
func (t *Throttler[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.window != nil {
		t.window.Stop()
		t.window = nil
	}
	t.pending = nil
}

// Ticker invokes fn on a fixed cadence until stopped.
type Ticker struct {
	mu       sync.Mutex
	after    AfterFunc
	interval time.Duration
	fn       func()
	handle   Handle
	stopped  bool
}

// Every starts a ticker. The first call happens one interval from now.
func Every(af AfterFunc, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{after: af, interval: interval, fn: fn}
	t.mu.Lock()
	t.handle = af(interval, t.tick)
	t.mu.Unlock()
	return t
}

func (t *Ticker) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.handle = t.after(t.interval, t.tick)
	t.mu.Unlock()
	t.fn()
}

// Stop prevents further ticks. Safe to call multiple times.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
}
