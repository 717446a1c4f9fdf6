// Package collector owns the capture, buffer and flush lifecycle of one page
// session.
//
// A Collector is Blocked until the gate reports both authorization and
// consent, Active while capturing, and Stopped after page unload or Stop.
// Adapter calls are serialized; the collector never calls the adapter while
// holding its own state lock.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/metrics"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/timer"
	"github.com/graaaaa/attention-collector/internal/upload"
)

// Sentinel errors for the collector package.
var (
	// ErrStopped is returned by operations on a stopped collector.
	ErrStopped = errors.New("collector stopped")

	// ErrNoAdapter is returned when the registry resolves nothing for the page host.
	ErrNoAdapter = errors.New("no adapter for host")
)

// Defaults.
const (
	DefaultFlushThreshold = 10
	DefaultFlushInterval  = 5 * time.Minute
	DefaultLowWaterMark   = 1
	DefaultScrollThrottle = 250 * time.Millisecond
	DefaultInputDebounce  = 500 * time.Millisecond
	DefaultURLPoll        = time.Second
	DefaultStorageKey     = "attention_events"
)

// State is the collector lifecycle state.
type State int

const (
	Blocked State = iota
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Blocked:
		return "blocked"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Gate supplies the authorization and consent signals.
type Gate interface {
	Status() gate.Status
	Subscribe(fn func(gate.Status)) func()
}

// Uploader sends persisted batches to the remote endpoint.
type Uploader interface {
	Dispatch(ctx context.Context, batch []event.Event) upload.Report
}

// FlushResult describes one completed flush.
type FlushResult struct {
	SessionID string
	Drained   int
	Persisted int // total events in the log after the write
	Upload    *upload.Report
	Err       error
}

// Collector is safe for concurrent use.
type Collector struct {
	page      page.Page
	variant   adapter.Variant
	site      string
	log       *storage.EventLog
	gate      Gate
	uploader  Uploader
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     timer.Clock
	afterFunc timer.AfterFunc
	spawn     func(fn func())
	onFlush   func(FlushResult)

	threshold      int
	lowWater       int
	flushInterval  time.Duration
	scrollThrottle time.Duration
	inputDebounce  time.Duration
	urlPoll        time.Duration

	// adapterMu serializes every adapter call. Lock order: adapterMu, then mu.
	adapterMu sync.Mutex
	adapter   adapter.Adapter

	mu         sync.Mutex
	ctx        context.Context
	state      State
	started    bool
	sessionID  string
	buffer     []event.Event
	carry      []event.Event // drained but not persisted; goes first in the next flush
	flushing   bool
	milestones *page.Milestones
	scrollPeak float64 // deepest depth seen since the last handled scroll
	lastURL    string
	media      map[*page.Element]struct{}
	detach     []func()
	gateUnsub  func()

	flushes sync.WaitGroup
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithClock sets the clock used for timestamps.
func WithClock(clk timer.Clock) Option {
	return func(c *Collector) { c.clock = clk }
}

// WithAfterFunc sets the timer function (for testing).
func WithAfterFunc(af timer.AfterFunc) Option {
	return func(c *Collector) { c.afterFunc = af }
}

// WithUploader enables best-effort uploads after each persisted flush.
func WithUploader(u Uploader) Option {
	return func(c *Collector) { c.uploader = u }
}

// WithMetrics records counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithGate sets the gating signals. Without a gate the collector stays Blocked.
func WithGate(g Gate) Option {
	return func(c *Collector) { c.gate = g }
}

// WithFlushThreshold sets the buffer size that triggers a flush.
func WithFlushThreshold(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithFlushInterval sets the scheduled flush cadence. Zero disables it.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) { c.flushInterval = d }
}

// WithLowWaterMark sets the minimum buffer size for a scheduled flush.
func WithLowWaterMark(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.lowWater = n
		}
	}
}

// WithScrollThrottle sets the scroll handling window. Zero handles every scroll.
func WithScrollThrottle(d time.Duration) Option {
	return func(c *Collector) { c.scrollThrottle = d }
}

// WithInputDebounce sets the quiet period before an input is recorded.
func WithInputDebounce(d time.Duration) Option {
	return func(c *Collector) { c.inputDebounce = d }
}

// WithURLPollInterval sets how often the URL is polled for silent route
// changes. Zero disables polling.
func WithURLPollInterval(d time.Duration) Option {
	return func(c *Collector) { c.urlPoll = d }
}

// WithEventLog persists into log instead of a log built from the kv passed to
// New. Collectors sharing one key in a process must share one log.
func WithEventLog(log *storage.EventLog) Option {
	return func(c *Collector) { c.log = log }
}

// WithOnFlush registers a hook called after every flush, outside any lock.
func WithOnFlush(fn func(FlushResult)) Option {
	return func(c *Collector) { c.onFlush = fn }
}

// WithSpawn sets how threshold and scheduled flushes run. The default starts
// a goroutine.
func WithSpawn(spawn func(fn func())) Option {
	return func(c *Collector) { c.spawn = spawn }
}

// New resolves the adapter variant for the page host. A nil kv without
// WithEventLog makes capture a no-op.
func New(p page.Page, registry *adapter.Registry, kv storage.KV, opts ...Option) (*Collector, error) {
	site := page.Hostname(p.URL())
	variant, ok := registry.Resolve(site)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registry has no default pattern)", ErrNoAdapter, site)
	}

	c := &Collector{
		page:           p,
		variant:        variant,
		site:           site,
		logger:         slog.Default(),
		clock:          timer.DefaultClock,
		afterFunc:      timer.DefaultAfterFunc,
		threshold:      DefaultFlushThreshold,
		lowWater:       DefaultLowWaterMark,
		flushInterval:  DefaultFlushInterval,
		scrollThrottle: DefaultScrollThrottle,
		inputDebounce:  DefaultInputDebounce,
		urlPoll:        DefaultURLPoll,
		ctx:            context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.spawn == nil {
		c.spawn = func(fn func()) { go fn() }
	}
	if c.log == nil && kv != nil {
		c.log = storage.NewEventLog(kv, DefaultStorageKey)
	}
	c.logger = c.logger.With("site", site, "adapter", string(variant))
	return c, nil
}

// Start subscribes to the gate and activates capture if the gate is open.
// Calling Start again is a no-op.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	unload := c.page.OnUnload(c.onUnload)
	var gateUnsub func()
	if c.gate != nil {
		gateUnsub = c.gate.Subscribe(func(s gate.Status) { c.applyGate(s.Allowed()) })
	}
	c.mu.Lock()
	c.gateUnsub = func() {
		unload()
		if gateUnsub != nil {
			gateUnsub()
		}
	}
	c.mu.Unlock()

	if c.gate != nil {
		c.applyGate(c.gate.Status().Allowed())
	}
	return nil
}

// Stop ends the session: the adapter is cleaned up, listeners are detached and
// whatever is buffered is flushed synchronously. Stop is idempotent.
func (c *Collector) Stop(ctx context.Context) error {
	c.adapterMu.Lock()
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		c.adapterMu.Unlock()
		return nil
	}
	wasActive := c.state == Active
	a := c.adapter
	c.mu.Unlock()

	if wasActive && a != nil {
		c.runAdapter("cleanup", a.Cleanup)
		c.capture(event.TypeSessionEnd, event.CategorySession, nil)
	}

	c.mu.Lock()
	c.state = Stopped
	c.adapter = nil
	detach := c.detachLocked()
	if c.gateUnsub != nil {
		detach = append(detach, c.gateUnsub)
		c.gateUnsub = nil
	}
	c.mu.Unlock()
	c.adapterMu.Unlock()

	for _, fn := range detach {
		fn()
	}
	if wasActive {
		c.metrics.SessionClosed()
	}

	// Let an in-flight flush finish so the final one is not skipped.
	c.flushes.Wait()
	c.mu.Lock()
	if len(c.buffer) == 0 && len(c.carry) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.beginFlushLocked()
	c.mu.Unlock()
	return c.deliver(ctx, batch)
}

func (c *Collector) onUnload() {
	if err := c.Stop(c.context()); err != nil {
		c.logger.Warn("final flush failed", "error", err)
	}
}

// State returns the lifecycle state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Flushing reports whether a flush is in progress.
func (c *Collector) Flushing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushing
}

// Buffered returns the number of events waiting for a flush.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// SessionID returns the current session id, empty before the first activation.
func (c *Collector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Variant returns the adapter variant resolved for the page.
func (c *Collector) Variant() adapter.Variant { return c.variant }

// Log returns the persisted event log, nil without storage.
func (c *Collector) Log() *storage.EventLog { return c.log }

func (c *Collector) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// applyGate moves between Blocked and Active.
func (c *Collector) applyGate(allowed bool) {
	if allowed {
		c.activate()
	} else {
		c.block()
	}
}

func (c *Collector) activate() {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	c.mu.Lock()
	if c.state != Blocked {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	a, err := adapter.New(c.variant, adapter.Env{
		Page:      c.page,
		Emit:      func(t string, cat event.Category, data map[string]any) { c.capture(t, cat, data) },
		Clock:     c.clock,
		AfterFunc: c.guardedAfterFunc,
		Logger:    c.logger,
		Guard:     c.guard,
	})
	if err != nil {
		// Unreachable while the registry only holds known variants.
		c.logger.Error("adapter construction failed", "error", err)
		return
	}

	c.mu.Lock()
	c.state = Active
	c.adapter = a
	c.sessionID = event.NewSessionID(c.clock.Now())
	c.buffer = nil
	c.milestones = page.NewMilestones(25, 50, 75, 100)
	c.scrollPeak = 0
	c.lastURL = c.page.URL()
	c.media = make(map[*page.Element]struct{})
	c.mu.Unlock()

	c.metrics.SessionOpened()
	c.logger.Info("capture active", "session_id", c.SessionID())
	c.capture(event.TypeSessionStart, event.CategorySession, map[string]any{"adapter": a.Name()})
	c.runAdapter("initialize", a.Initialize)

	detach := c.attachListeners()
	c.mu.Lock()
	c.detach = detach
	c.mu.Unlock()

	c.page.Document().Walk(func(el *page.Element) {
		if el.IsMedia() {
			c.attachMediaLocked(a, el)
		}
	})
}

func (c *Collector) block() {
	c.adapterMu.Lock()
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		c.adapterMu.Unlock()
		return
	}
	c.state = Blocked
	discarded := len(c.buffer)
	c.buffer = nil
	a := c.adapter
	c.adapter = nil
	detach := c.detachLocked()
	c.mu.Unlock()

	// Events emitted during cleanup are dropped: the state is already Blocked.
	if a != nil {
		c.runAdapter("cleanup", a.Cleanup)
	}
	c.adapterMu.Unlock()

	for _, fn := range detach {
		fn()
	}
	c.metrics.EventsDiscarded(discarded)
	c.metrics.SessionClosed()
	c.logger.Info("capture blocked", "discarded", discarded)
}

func (c *Collector) detachLocked() []func() {
	d := c.detach
	c.detach = nil
	return d
}
