package adapter

import (
	"net/url"
	"strings"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

// completionDepth is the scroll depth at which a page counts as read through.
const completionDepth = 90

// base holds the generic engagement state every variant shares: page
// metadata, dwell time, maximum scroll depth and outbound link tracking.
type base struct {
	env       Env
	name      string
	pageURL   string
	pageStart time.Time
	maxDepth  float64
	media     *mediaTracker
}

func newBase(env Env, name string, media mediaConfig) base {
	b := base{env: env, name: name}
	b.media = newMediaTracker(env, media)
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) emit(typ string, cat event.Category, data map[string]any) {
	b.env.Emit(typ, cat, data)
}

func (b *base) now() time.Time { return b.env.Clock.Now() }

// startPage resets per-page state and emits page_view.
func (b *base) startPage() {
	p := b.env.Page
	b.pageURL = p.URL()
	b.pageStart = b.now()
	b.maxDepth = 0

	data := map[string]any{
		"title": p.Title(),
		"path":  urlPath(b.pageURL),
	}
	if doc := p.Document(); doc != nil {
		if lang := doc.Attr("lang"); lang != "" {
			data["lang"] = lang
		}
	}
	b.emit(event.TypePageView, event.CategoryNavigation, data)
}

// exitPage emits the summary of the page being left.
func (b *base) exitPage() {
	if b.pageStart.IsZero() {
		return
	}
	b.emit(event.TypePageExit, event.CategoryNavigation, map[string]any{
		"url":              b.pageURL,
		"dwell_ms":         b.now().Sub(b.pageStart).Milliseconds(),
		"max_scroll_depth": round1(b.maxDepth),
		"completed":        b.maxDepth >= completionDepth,
	})
	b.pageStart = time.Time{}
}

func (b *base) trackScroll(s page.ScrollState) {
	if d := s.Depth(); d > b.maxDepth {
		b.maxDepth = d
	}
}

// dwell returns the time spent on the current page.
func (b *base) dwell() time.Duration {
	if b.pageStart.IsZero() {
		return 0
	}
	return b.now().Sub(b.pageStart)
}

// trackOutbound emits outbound_click when el sits inside a link to another site.
func (b *base) trackOutbound(el *page.Element) {
	link := el.Closest(page.And(page.ByTag("a"), page.HasAttr("href")))
	if link == nil {
		return
	}
	target, err := url.Parse(link.Attr("href"))
	if err != nil || !target.IsAbs() {
		return
	}
	host := strings.ToLower(target.Hostname())
	if host == "" || sameSite(host, page.Hostname(b.env.Page.URL())) {
		return
	}
	b.emit(event.TypeOutboundLink, event.CategoryInteraction, map[string]any{
		"href":          link.Attr("href"),
		"domain":        host,
		"link_category": ClassifyLink(host),
		"text":          truncate(link.Label(), 80),
	})
}

func (b *base) Initialize() { b.startPage() }

func (b *base) HandleClick(el *page.Element) { b.trackOutbound(el) }

func (b *base) HandleScroll(s page.ScrollState) { b.trackScroll(s) }

func (b *base) HandleNavigation(_, _ string) {
	b.exitPage()
	b.startPage()
}

func (b *base) AttachMedia(el *page.Element) { b.media.Attach(el) }

func (b *base) Cleanup() {
	b.exitPage()
	b.media.DetachAll()
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

func queryParam(raw, key string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// pathSegmentAfter returns the path segment following marker, e.g.
// pathSegmentAfter("/r/golang/comments/abc/x", "comments") == "abc".
func pathSegmentAfter(raw, marker string) string {
	parts := strings.Split(strings.Trim(urlPath(raw), "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == marker {
			return parts[i+1]
		}
	}
	return ""
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
