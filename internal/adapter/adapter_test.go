package adapter

import (
	"testing"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/timer/timertest"
)

var epoch = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type emitted struct {
	typ  string
	cat  event.Category
	data map[string]any
}

type recorder struct {
	events []emitted
}

func (r *recorder) emit(typ string, cat event.Category, data map[string]any) {
	r.events = append(r.events, emitted{typ: typ, cat: cat, data: data})
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.typ
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, e := range r.events {
		if e.typ == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last(t *testing.T, typ string) emitted {
	t.Helper()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].typ == typ {
			return r.events[i]
		}
	}
	t.Fatalf("no %s event in %v", typ, r.types())
	return emitted{}
}

func (r *recorder) reset() { r.events = nil }

type harness struct {
	page *page.Virtual
	clk  *timertest.Fake
	rec  *recorder
	a    Adapter
}

func newHarness(t *testing.T, v Variant, rawURL string, nodes ...*page.Element) *harness {
	t.Helper()
	h := &harness{
		page: page.NewVirtual(rawURL, page.WithTitle("Test page")),
		clk:  timertest.New(epoch),
		rec:  &recorder{},
	}
	for _, n := range nodes {
		if err := h.page.AddNode("", n); err != nil {
			t.Fatal(err)
		}
	}
	a, err := New(v, Env{
		Page:      h.page,
		Emit:      h.rec.emit,
		Clock:     h.clk,
		AfterFunc: h.clk.AfterFunc,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.a = a
	return h
}

func (h *harness) navigate(to string) {
	from := h.page.URL()
	h.page.Navigate(to, "")
	h.a.HandleNavigation(from, to)
}

func (h *harness) scroll(y, docHeight float64) {
	h.page.ScrollTo(y, docHeight)
	h.a.HandleScroll(h.page.Scroll())
}

func el(tag string, attrs map[string]string, children ...*page.Element) *page.Element {
	e := page.NewElement(tag, attrs)
	return e.Append(children...)
}

func box(e *page.Element, top, height float64) *page.Element {
	e.Top, e.Height = top, height
	return e
}

func video(key string, st page.MediaState) *page.Element {
	v := page.NewElement("video", nil)
	v.Key = key
	v.Media = page.NewMedia(st)
	return v
}

func assertTypes(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types = %v, want %v", got, want)
		}
	}
}

func TestClassifyAdPosition(t *testing.T) {
	tests := []struct {
		cur, dur float64
		want     string
	}{
		{3, 600, AdPreRoll},
		{0, 0, AdPreRoll},
		{580, 600, AdPostRoll},
		{570, 600, AdPostRoll},
		{300, 600, AdMidRoll},
		{300, 0, AdMidRoll},
	}
	for _, tt := range tests {
		if got := ClassifyAdPosition(tt.cur, tt.dur); got != tt.want {
			t.Errorf("ClassifyAdPosition(%v, %v) = %q, want %q", tt.cur, tt.dur, got, tt.want)
		}
	}
}

func TestClassifyLink(t *testing.T) {
	tests := map[string]string{
		"www.amazon.com":   LinkShopping,
		"news.google.com":  LinkSearch,
		"www.bbc.co.uk":    LinkNews,
		"vimeo.com":        LinkVideo,
		"instagram.com":    LinkSocial,
		"golang.org":       LinkOther,
		"notamazon.com.au": LinkOther,
	}
	for host, want := range tests {
		if got := ClassifyLink(host); got != want {
			t.Errorf("ClassifyLink(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestDefault_PageLifecycle(t *testing.T) {
	h := newHarness(t, VariantDefault, "https://blog.example.com/posts/1")
	h.a.Initialize()

	view := h.rec.last(t, event.TypePageView)
	if view.cat != event.CategoryNavigation || view.data["path"] != "/posts/1" {
		t.Errorf("page_view = %+v", view)
	}

	h.scroll(9200, 10000)
	h.clk.Advance(5 * time.Second)
	h.navigate("https://blog.example.com/posts/2")

	exit := h.rec.last(t, event.TypePageExit)
	if exit.data["url"] != "https://blog.example.com/posts/1" {
		t.Errorf("exit url = %v", exit.data["url"])
	}
	if exit.data["dwell_ms"] != int64(5000) {
		t.Errorf("dwell_ms = %v, want 5000", exit.data["dwell_ms"])
	}
	if exit.data["completed"] != true {
		t.Errorf("completed = %v, want true", exit.data["completed"])
	}
	if got := h.rec.last(t, event.TypePageView).data["path"]; got != "/posts/2" {
		t.Errorf("second page_view path = %v", got)
	}

	h.a.Cleanup()
	h.a.Cleanup()
	if n := h.rec.count(event.TypePageExit); n != 2 {
		t.Errorf("page_exit count = %d, want 2", n)
	}
}

func TestDefault_OutboundClick(t *testing.T) {
	inner := el("span", nil)
	inner.Text = "Buy it"
	external := el("a", map[string]string{"href": "https://www.amazon.com/dp/1"}, inner)
	local := el("a", map[string]string{"href": "https://www.example.com/about"})
	relative := el("a", map[string]string{"href": "/about"})

	h := newHarness(t, VariantDefault, "https://example.com/", external, local, relative)
	h.a.Initialize()
	h.rec.reset()

	h.a.HandleClick(inner)
	h.a.HandleClick(local)
	h.a.HandleClick(relative)

	assertTypes(t, h.rec.types(), event.TypeOutboundLink)
	got := h.rec.events[0]
	if got.cat != event.CategoryInteraction {
		t.Errorf("category = %q", got.cat)
	}
	if got.data["domain"] != "www.amazon.com" || got.data["link_category"] != LinkShopping {
		t.Errorf("data = %v", got.data)
	}
}

func TestDefault_MediaAttachOnceAndCheckpoints(t *testing.T) {
	v := video("v1", page.MediaState{Duration: 600, Paused: true})
	h := newHarness(t, VariantDefault, "https://example.com/", v)
	h.a.Initialize()
	h.rec.reset()

	h.a.AttachMedia(v)
	h.a.AttachMedia(v)
	if n := v.Media.ListenerCount(); n != 1 {
		t.Fatalf("listeners = %d, want 1", n)
	}

	at := func(kind page.MediaEventKind, ct float64) {
		v.Media.Dispatch(kind, page.MediaState{CurrentTime: ct, Duration: 600})
	}
	at(page.MediaPlay, 0)
	at(page.MediaTimeUpdate, 29)
	at(page.MediaTimeUpdate, 31)
	at(page.MediaTimeUpdate, 35)
	at(page.MediaTimeUpdate, 61)
	at(page.MediaSeeked, 300)
	at(page.MediaEnded, 600)
	at(page.MediaEnded, 600)

	assertTypes(t, h.rec.types(),
		event.TypeVideoPlay,
		event.TypeVideoProgress,
		event.TypeVideoProgress,
		event.TypeVideoSeek,
		event.TypeVideoComplete,
	)
	if got := h.rec.events[1].data["checkpoint"]; got != 30.0 {
		t.Errorf("first checkpoint = %v, want 30", got)
	}
	seek := h.rec.last(t, event.TypeVideoSeek)
	if seek.data["from"] != 61.0 || seek.data["to"] != 300.0 {
		t.Errorf("seek = %v", seek.data)
	}

	h.a.Cleanup()
	if n := v.Media.ListenerCount(); n != 0 {
		t.Errorf("listeners after cleanup = %d, want 0", n)
	}
}

func TestDefault_MediaRateChangeOnlyOnChange(t *testing.T) {
	v := video("v1", page.MediaState{Duration: 100})
	h := newHarness(t, VariantDefault, "https://example.com/", v)
	h.a.AttachMedia(v)

	v.Media.Dispatch(page.MediaRateChange, page.MediaState{PlaybackRate: 1})
	v.Media.Dispatch(page.MediaRateChange, page.MediaState{PlaybackRate: 1.5})
	v.Media.Dispatch(page.MediaRateChange, page.MediaState{PlaybackRate: 1.5})

	assertTypes(t, h.rec.types(), event.TypeVideoRateChange)
	if got := h.rec.events[0].data["to"]; got != 1.5 {
		t.Errorf("to = %v", got)
	}
}

func TestDefault_MediaGuard(t *testing.T) {
	v := video("v1", page.MediaState{Duration: 100})
	rec := &recorder{}
	guarded := 0
	a, err := New(VariantDefault, Env{
		Page:  page.NewVirtual("https://example.com/"),
		Emit:  rec.emit,
		Guard: func(fn func()) { guarded++; fn() },
	})
	if err != nil {
		t.Fatal(err)
	}
	a.AttachMedia(v)
	v.Media.Dispatch(page.MediaPlay, page.MediaState{})
	if guarded != 1 || rec.count(event.TypeVideoPlay) != 1 {
		t.Errorf("guarded = %d, events = %v", guarded, rec.types())
	}
}

func TestViewTracker_Dedup(t *testing.T) {
	doc := el("body", nil,
		box(el("div", map[string]string{"data-id": "a", "class": "unit"}), 0, 100),
		box(el("div", map[string]string{"data-id": "b"}), 900, 100),
	)
	vt := newViewTracker(page.HasAttr("data-id"), func(e *page.Element) string { return e.Attr("data-id") })

	first := vt.Scan(doc, page.ScrollState{Y: 0, ViewportHeight: 800})
	if len(first) != 1 || first[0].id != "a" {
		t.Fatalf("first scan = %+v", first)
	}
	second := vt.Scan(doc, page.ScrollState{Y: 300, ViewportHeight: 800})
	if len(second) != 1 || second[0].id != "b" || second[0].position != 1 {
		t.Fatalf("second scan = %+v", second)
	}
	if again := vt.Scan(doc, page.ScrollState{Y: 0, ViewportHeight: 800}); len(again) != 0 {
		t.Errorf("rescan = %+v, want none", again)
	}
	if vt.Len() != 2 || !vt.Seen("a") {
		t.Errorf("Len = %d", vt.Len())
	}
}
