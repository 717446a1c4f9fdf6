package collector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/storage/memory"
	"github.com/graaaaa/attention-collector/internal/timer/timertest"
	"github.com/graaaaa/attention-collector/internal/upload"
)

var epoch = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	page    *page.Virtual
	gate    *gate.Gate
	kv      storage.KV
	clk     *timertest.Fake
	c       *collector.Collector
	mu      sync.Mutex
	queued  []func()
	flushed []collector.FlushResult
}

type fixtureOpt struct {
	url      string
	kv       storage.KV
	queue    bool
	registry *adapter.Registry
	extra    []collector.Option
	page     page.Page
}

func newFixture(t *testing.T, o fixtureOpt) *fixture {
	t.Helper()
	if o.url == "" {
		o.url = "https://blog.example.com/posts/1"
	}
	if o.registry == nil {
		o.registry = adapter.DefaultRegistry()
	}
	f := &fixture{
		t:    t,
		page: page.NewVirtual(o.url, page.WithTitle("Post")),
		gate: gate.New(),
		kv:   o.kv,
		clk:  timertest.New(epoch),
	}
	if f.kv == nil {
		f.kv = memory.New()
	}
	spawn := func(fn func()) { fn() }
	if o.queue {
		spawn = func(fn func()) {
			f.mu.Lock()
			f.queued = append(f.queued, fn)
			f.mu.Unlock()
		}
	}
	opts := []collector.Option{
		collector.WithClock(f.clk),
		collector.WithAfterFunc(f.clk.AfterFunc),
		collector.WithGate(f.gate),
		collector.WithScrollThrottle(0),
		collector.WithURLPollInterval(0),
		collector.WithSpawn(spawn),
		collector.WithOnFlush(func(r collector.FlushResult) {
			f.mu.Lock()
			f.flushed = append(f.flushed, r)
			f.mu.Unlock()
		}),
	}
	opts = append(opts, o.extra...)
	var p page.Page = f.page
	if o.page != nil {
		p = o.page
	}
	c, err := collector.New(p, o.registry, f.kv, opts...)
	if err != nil {
		t.Fatal(err)
	}
	f.c = c
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) open() {
	f.gate.Authorize("0xabc", "tok")
	f.gate.SetConsent(true)
}

// drain flushes whatever activation buffered and forgets the flush record.
func (f *fixture) drain() {
	f.t.Helper()
	if err := f.c.Flush(context.Background()); err != nil {
		f.t.Fatal(err)
	}
	f.mu.Lock()
	f.flushed = nil
	f.mu.Unlock()
}

func (f *fixture) flushes() []collector.FlushResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collector.FlushResult(nil), f.flushed...)
}

func (f *fixture) runQueued() {
	f.mu.Lock()
	q := f.queued
	f.queued = nil
	f.mu.Unlock()
	for _, fn := range q {
		fn()
	}
}

func (f *fixture) persisted() []event.Event {
	f.t.Helper()
	events, err := f.c.Log().Load(context.Background())
	if err != nil {
		f.t.Fatal(err)
	}
	return events
}

func (f *fixture) capture(n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		if err := f.c.Capture("custom", event.CategoryInteraction, map[string]any{"i": i}); err != nil {
			f.t.Fatal(err)
		}
	}
}

func typesOf(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func countType(events []event.Event, typ string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNew_NoDefaultAdapter(t *testing.T) {
	reg := adapter.NewRegistry().MustRegister("*.youtube.com", adapter.VariantYouTube)
	_, err := collector.New(page.NewVirtual("https://example.org/"), reg, memory.New())
	if !errors.Is(err, collector.ErrNoAdapter) {
		t.Fatalf("err = %v, want ErrNoAdapter", err)
	}
}

func TestNew_ResolvesVariant(t *testing.T) {
	c, err := collector.New(page.NewVirtual("https://m.youtube.com/watch?v=x"), adapter.DefaultRegistry(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Variant() != adapter.VariantYouTube {
		t.Errorf("variant = %q", c.Variant())
	}
}

func TestGate_ActiveNeedsBothSignals(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	if f.c.State() != collector.Blocked {
		t.Fatalf("state = %v, want blocked", f.c.State())
	}

	f.gate.Authorize("0xabc", "tok")
	f.capture(3)
	if f.c.State() != collector.Blocked || f.c.Buffered() != 0 {
		t.Fatalf("authorized only: state = %v, buffered = %d", f.c.State(), f.c.Buffered())
	}

	f.gate.SetConsent(true)
	if f.c.State() != collector.Active {
		t.Fatalf("state = %v, want active", f.c.State())
	}
	if f.c.SessionID() == "" {
		t.Error("empty session id")
	}
	// session_start and the adapter's page_view
	if got := f.c.Buffered(); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}
}

func TestStart_Idempotent(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	if err := f.c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.open()
	f.drain()
	if n := countType(f.persisted(), event.TypeSessionStart); n != 1 {
		t.Errorf("session_start count = %d, want 1", n)
	}
}

func TestThreshold_NineThenTen(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	f.open()
	f.drain()

	f.capture(9)
	if n := len(f.flushes()); n != 0 {
		t.Fatalf("flushes after 9 = %d, want 0", n)
	}
	if f.c.Buffered() != 9 {
		t.Fatalf("buffered = %d, want 9", f.c.Buffered())
	}

	f.capture(1)
	got := f.flushes()
	if len(got) != 1 {
		t.Fatalf("flushes after 10 = %d, want 1", len(got))
	}
	if got[0].Drained != 10 || got[0].Err != nil {
		t.Errorf("flush = %+v, want 10 drained", got[0])
	}
	if f.c.Buffered() != 0 {
		t.Errorf("buffered after flush = %d", f.c.Buffered())
	}
	if n := len(f.persisted()); n != 12 {
		t.Errorf("persisted = %d, want 12", n)
	}
}

func TestThreshold_CapturesDuringFlushStartNewBuffer(t *testing.T) {
	f := newFixture(t, fixtureOpt{queue: true})
	f.open()
	f.drain()

	f.capture(10)
	if !f.c.Flushing() {
		t.Fatal("flush not in progress")
	}
	f.capture(12)
	if got := f.c.Buffered(); got != 12 {
		t.Fatalf("buffered during flush = %d, want 12", got)
	}

	f.runQueued()
	got := f.flushes()
	if len(got) != 1 || got[0].Drained != 10 {
		t.Fatalf("flushes = %+v, want one draining 10", got)
	}
	if f.c.Flushing() {
		t.Error("still flushing")
	}
	persisted := f.persisted()
	if len(persisted) != 12 {
		t.Fatalf("persisted = %d, want 12", len(persisted))
	}
	last := persisted[len(persisted)-1]
	if v, _ := last.Float("i"); v != 9 {
		t.Errorf("last persisted i = %v, want 9", v)
	}
	if f.c.Buffered() != 12 {
		t.Errorf("buffered after flush = %d, want 12", f.c.Buffered())
	}
}

func TestFlush_SkipsWhileInFlight(t *testing.T) {
	f := newFixture(t, fixtureOpt{queue: true})
	f.open()
	f.drain()
	f.capture(10)
	f.capture(1)

	if err := f.c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.c.Buffered() != 1 {
		t.Errorf("Flush ran during an in-flight flush")
	}
	f.runQueued()
}

func TestBlock_DiscardsBuffer(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	f.open()
	first := f.c.SessionID()
	f.capture(5)

	f.gate.SetConsent(false)
	if f.c.State() != collector.Blocked {
		t.Fatalf("state = %v, want blocked", f.c.State())
	}
	if f.c.Buffered() != 0 {
		t.Fatalf("buffered = %d, want 0", f.c.Buffered())
	}
	if n, _ := f.c.Log().Count(context.Background()); n != 0 {
		t.Fatalf("persisted %d events captured before blocking", n)
	}

	f.gate.SetConsent(true)
	if f.c.SessionID() == first {
		t.Error("session id reused after re-activation")
	}
	f.drain()
	events := f.persisted()
	if countType(events, "custom") != 0 {
		t.Errorf("discarded events resurfaced: %v", typesOf(events))
	}
	for _, e := range events {
		if e.SessionID != f.c.SessionID() {
			t.Errorf("event from session %q", e.SessionID)
		}
	}
}

func TestScroll_MilestonesUpwardOnly(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	f.open()

	// viewport 800, document 8000: depth = (y+800)/80
	for _, y := range []float64{0, 1600, 800, 4000} {
		f.page.ScrollTo(y, 8000)
	}
	f.drain()

	var depths []float64
	for _, e := range f.persisted() {
		if e.Type == event.TypeScrollDepth {
			d, _ := e.Float("depth")
			depths = append(depths, d)
		}
	}
	if len(depths) != 2 || depths[0] != 25 || depths[1] != 50 {
		t.Errorf("milestones = %v, want [25 50]", depths)
	}
	if got := f.c.ScrollMilestones(); len(got) != 2 {
		t.Errorf("ScrollMilestones = %v", got)
	}
}

func TestScroll_Throttled(t *testing.T) {
	f := newFixture(t, fixtureOpt{extra: []collector.Option{collector.WithScrollThrottle(250 * time.Millisecond)}})
	f.open()

	f.page.ScrollTo(0, 8000)
	f.page.ScrollTo(1600, 8000)
	f.page.ScrollTo(4000, 8000)
	f.clk.Advance(250 * time.Millisecond)
	f.drain()

	if n := countType(f.persisted(), event.TypeScrollDepth); n != 2 {
		t.Errorf("scroll_depth events = %d, want 2", n)
	}
}

func TestScroll_ThrottledKeepsDeepestPoint(t *testing.T) {
	f := newFixture(t, fixtureOpt{extra: []collector.Option{collector.WithScrollThrottle(250 * time.Millisecond)}})
	f.open()

	// depths 10, 30, 20 inside one window: the trailing call sees 20 but 25 was passed
	f.page.ScrollTo(0, 8000)
	f.page.ScrollTo(1600, 8000)
	f.page.ScrollTo(800, 8000)
	f.clk.Advance(250 * time.Millisecond)
	f.drain()

	var depths []float64
	for _, e := range f.persisted() {
		if e.Type == event.TypeScrollDepth {
			d, _ := e.Float("depth")
			depths = append(depths, d)
		}
	}
	if len(depths) != 1 || depths[0] != 25 {
		t.Errorf("milestones = %v, want [25]", depths)
	}
}

func TestClick_UniversalAndAdapter(t *testing.T) {
	like := page.NewElement("button", map[string]string{"aria-label": "Like this video"})
	like.Key = "like"
	f := newFixture(t, fixtureOpt{url: "https://www.youtube.com/watch?v=abc"})
	if err := f.page.AddNode("", like); err != nil {
		t.Fatal(err)
	}
	f.open()
	if err := f.page.Click("like"); err != nil {
		t.Fatal(err)
	}
	f.drain()

	events := f.persisted()
	if countType(events, event.TypeClick) != 1 || countType(events, event.TypeLike) != 1 {
		t.Fatalf("types = %v", typesOf(events))
	}
	for _, e := range events {
		if e.Site != "www.youtube.com" || e.Adapter != "youtube" || e.Viewport.Height != 800 {
			t.Errorf("metadata = %+v", e)
		}
	}
}

func TestNavigation_ObserverAndPolling(t *testing.T) {
	f := newFixture(t, fixtureOpt{extra: []collector.Option{collector.WithURLPollInterval(time.Second)}})
	f.open()

	f.page.Navigate("https://blog.example.com/posts/2", "")
	f.clk.Advance(time.Second)
	f.page.SetURLSilently("https://blog.example.com/posts/3")
	f.clk.Advance(time.Second)
	f.drain()

	var tos []string
	for _, e := range f.persisted() {
		if e.Type == event.TypeNavigation {
			tos = append(tos, e.String("to"))
		}
	}
	if len(tos) != 2 || tos[0] != "https://blog.example.com/posts/2" || tos[1] != "https://blog.example.com/posts/3" {
		t.Errorf("navigations = %v", tos)
	}
}

func TestMedia_AttachedOncePerElement(t *testing.T) {
	existing := page.NewElement("video", nil)
	existing.Key = "v0"
	existing.Media = page.NewMedia(page.MediaState{Duration: 100})
	f := newFixture(t, fixtureOpt{})
	if err := f.page.AddNode("", existing); err != nil {
		t.Fatal(err)
	}
	f.open()

	added := page.NewElement("video", nil)
	added.Key = "v1"
	added.Media = page.NewMedia(page.MediaState{Duration: 100, Src: "https://cdn.example.com/a.mp4"})
	wrapper := page.NewElement("div", nil).Append(added)
	if err := f.page.AddNode("", wrapper); err != nil {
		t.Fatal(err)
	}
	// A re-insertion of the same subtree must not attach twice.
	if err := f.page.AddNode("", wrapper); err != nil {
		t.Fatal(err)
	}
	if err := f.page.MediaEvent("v1", page.MediaPlay, page.MediaState{Duration: 100}); err != nil {
		t.Fatal(err)
	}
	f.drain()

	events := f.persisted()
	if n := countType(events, event.TypeMediaAttach); n != 2 {
		t.Errorf("media_attach = %d, want 2", n)
	}
	if n := countType(events, event.TypeVideoPlay); n != 1 {
		t.Errorf("video_play = %d, want 1", n)
	}
	if n := added.Media.ListenerCount(); n != 1 {
		t.Errorf("listeners = %d, want 1", n)
	}
}

func TestInput_DebouncedMetadataOnly(t *testing.T) {
	field := page.NewElement("input", map[string]string{"type": "search", "name": "q"})
	field.Key = "q"
	pw := page.NewElement("input", map[string]string{"type": "password"})
	pw.Key = "pw"
	f := newFixture(t, fixtureOpt{})
	_ = f.page.AddNode("", field)
	_ = f.page.AddNode("", pw)
	f.open()

	_ = f.page.Input("q", "se")
	f.clk.Advance(100 * time.Millisecond)
	_ = f.page.Input("q", "secret words")
	_ = f.page.Input("pw", "hunter2")
	f.clk.Advance(500 * time.Millisecond)
	f.drain()

	var inputs []event.Event
	for _, e := range f.persisted() {
		if e.Type == event.TypeInput {
			inputs = append(inputs, e)
		}
	}
	if len(inputs) != 1 {
		t.Fatalf("input events = %d, want 1", len(inputs))
	}
	if n, _ := inputs[0].Float("length"); n != 12 {
		t.Errorf("length = %v, want 12", n)
	}
	for k, v := range inputs[0].Data {
		if s, ok := v.(string); ok && s == "secret words" {
			t.Errorf("raw value captured under %q", k)
		}
	}
}

func TestScheduledFlush(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	f.open()
	f.drain()

	f.clk.Advance(collector.DefaultFlushInterval)
	if n := len(f.flushes()); n != 0 {
		t.Fatalf("flushed an empty buffer")
	}
	f.capture(1)
	f.clk.Advance(collector.DefaultFlushInterval)
	got := f.flushes()
	if len(got) != 1 || got[0].Drained != 1 {
		t.Errorf("flushes = %+v, want one of 1", got)
	}
}

func TestUnload_StopsAndFlushes(t *testing.T) {
	f := newFixture(t, fixtureOpt{})
	f.open()
	f.capture(2)

	f.page.Unload()

	if f.c.State() != collector.Stopped {
		t.Fatalf("state = %v, want stopped", f.c.State())
	}
	events := f.persisted()
	types := typesOf(events)
	if len(types) < 2 || types[len(types)-2] != event.TypePageExit || types[len(types)-1] != event.TypeSessionEnd {
		t.Errorf("types = %v, want page_exit then session_end last", types)
	}
	if err := f.c.Capture("late", event.CategoryInteraction, nil); !errors.Is(err, collector.ErrStopped) {
		t.Errorf("Capture err = %v, want ErrStopped", err)
	}
	if err := f.c.Start(context.Background()); !errors.Is(err, collector.ErrStopped) {
		t.Errorf("Start err = %v, want ErrStopped", err)
	}
	if err := f.c.Stop(context.Background()); err != nil {
		t.Errorf("second Stop = %v", err)
	}
	if n := f.page.ListenerCount(); n != 0 {
		t.Errorf("page listeners left = %d", n)
	}
	if n := f.clk.Pending(); n != 0 {
		t.Errorf("timers left = %d", n)
	}
}

func TestNoStorage_CaptureIsNoop(t *testing.T) {
	p := page.NewVirtual("https://example.com/")
	g := gate.New()
	c, err := collector.New(p, adapter.DefaultRegistry(), nil, collector.WithGate(g), collector.WithURLPollInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	g.Authorize("0xabc", "tok")
	g.SetConsent(true)
	if err := c.Capture("x", event.CategoryInteraction, nil); err != nil {
		t.Fatal(err)
	}
	if c.Buffered() != 0 {
		t.Errorf("buffered = %d without storage", c.Buffered())
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Errorf("Flush = %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}

type flakyKV struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

func (k *flakyKV) setFail(v bool) {
	k.mu.Lock()
	k.fail = v
	k.mu.Unlock()
}

func (k *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	k.mu.Lock()
	fail := k.fail
	k.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return k.Store.Set(ctx, key, value)
}

func TestPersistFailure_KeepsBatchInOrder(t *testing.T) {
	kv := &flakyKV{Store: memory.New()}
	f := newFixture(t, fixtureOpt{kv: kv})
	f.open()

	kv.setFail(true)
	if err := f.c.Flush(context.Background()); err == nil {
		t.Fatal("Flush succeeded with failing storage")
	}
	if f.c.Flushing() {
		t.Fatal("in-flight guard not released")
	}
	f.capture(1)

	kv.setFail(false)
	f.drain()
	got := typesOf(f.persisted())
	want := []string{event.TypeSessionStart, event.TypePageView, "custom"}
	if len(got) != len(want) {
		t.Fatalf("persisted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("persisted = %v, want %v", got, want)
		}
	}
}

type fakeUploader struct {
	mu      sync.Mutex
	batches [][]event.Event
	result  upload.Result
}

func (u *fakeUploader) Dispatch(_ context.Context, batch []event.Event) upload.Report {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batches = append(u.batches, batch)
	if u.result != upload.ResultOK {
		return upload.Report{Result: u.result, Pending: len(batch)}
	}
	return upload.Report{Result: upload.ResultOK, Sent: len(batch)}
}

func TestUpload_AfterPersist(t *testing.T) {
	up := &fakeUploader{result: upload.ResultRetryable}
	f := newFixture(t, fixtureOpt{extra: []collector.Option{collector.WithUploader(up)}})
	f.open()
	f.capture(8)

	got := f.flushes()
	if len(got) != 1 {
		t.Fatalf("flushes = %d, want 1", len(got))
	}
	if got[0].Err != nil || got[0].Upload == nil || got[0].Upload.Result != upload.ResultRetryable {
		t.Errorf("flush = %+v", got[0])
	}
	if len(up.batches) != 1 || len(up.batches[0]) != 10 {
		t.Fatalf("uploaded batches = %d", len(up.batches))
	}
	if n := len(f.persisted()); n != 10 {
		t.Errorf("persisted = %d, want 10 despite failed upload", n)
	}
}

// panickyPage makes the adapter's page metadata lookup panic.
type panickyPage struct {
	*page.Virtual
}

func (panickyPage) Title() string { panic("title unavailable") }

func TestAdapterPanic_Isolated(t *testing.T) {
	v := page.NewVirtual("https://example.com/")
	f := newFixture(t, fixtureOpt{page: panickyPage{v}})
	f.page = v
	f.open()

	if f.c.State() != collector.Active {
		t.Fatalf("state = %v, want active", f.c.State())
	}
	btn := page.NewElement("button", nil)
	v.ClickElement(btn)
	f.drain()

	events := f.persisted()
	if countType(events, event.TypeSessionStart) != 1 || countType(events, event.TypeClick) != 1 {
		t.Errorf("types = %v", typesOf(events))
	}
}

func TestCollector_SharedEventLogKeepsConcurrentFlushes(t *testing.T) {
	kv := memory.New()
	shared := storage.NewEventLog(kv, collector.DefaultStorageKey)

	const sessions, perSession = 4, 500
	fixtures := make([]*fixture, sessions)
	for i := range fixtures {
		fixtures[i] = newFixture(t, fixtureOpt{kv: kv, extra: []collector.Option{collector.WithEventLog(shared)}})
		fixtures[i].open()
	}

	var wg sync.WaitGroup
	for _, f := range fixtures {
		wg.Add(1)
		go func(c *collector.Collector) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				if err := c.Capture("custom", event.CategoryInteraction, map[string]any{"i": i}); err != nil {
					t.Error(err)
					return
				}
			}
			if err := c.Stop(context.Background()); err != nil {
				t.Error(err)
			}
		}(f.c)
	}
	wg.Wait()

	events, err := shared.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := countType(events, "custom"); got != sessions*perSession {
		t.Errorf("persisted %d custom events, want %d", got, sessions*perSession)
	}
	if got := countType(events, event.TypeSessionEnd); got != sessions {
		t.Errorf("persisted %d session_end events, want %d", got, sessions)
	}
}
