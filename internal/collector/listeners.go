package collector

import (
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/timer"
)

const maxLabel = 100

// attachListeners registers the page-wide listeners and timers for one
// activation and returns their detach funcs.
func (c *Collector) attachListeners() []func() {
	scroll := timer.Throttle(c.afterFunc, c.scrollThrottle, c.onScroll)
	input := timer.Debounce(c.afterFunc, c.inputDebounce, c.onInput)
	obs := c.page.Observer()

	detach := []func(){
		c.page.OnClick(c.onClick),
		c.page.OnScroll(func(s page.ScrollState) {
			c.notePeak(s.Depth())
			scroll.Call(s)
		}),
		scroll.Cancel,
		c.page.OnInput(func(el *page.Element) {
			if isTextField(el) {
				input.Call(el)
			}
		}),
		input.Cancel,
		obs.OnNodeAdded(c.onNodeAdded),
		obs.OnURLChanged(func(_, to string) { c.onURL(to) }),
	}
	if c.flushInterval > 0 {
		detach = append(detach, timer.Every(c.afterFunc, c.flushInterval, c.scheduledFlush).Stop)
	}
	if c.urlPoll > 0 {
		detach = append(detach, timer.Every(c.afterFunc, c.urlPoll, func() { c.onURL(c.page.URL()) }).Stop)
	}
	return detach
}

// runAdapter calls fn, recovering and logging a panic. Callers hold adapterMu.
func (c *Collector) runAdapter(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.AdapterPanic(string(c.variant))
			c.logger.Error("adapter handler panicked", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// withAdapter runs fn against the current adapter if the collector is Active.
func (c *Collector) withAdapter(op string, fn func(a adapter.Adapter)) {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	c.mu.Lock()
	a := c.adapter
	active := c.state == Active
	c.mu.Unlock()
	if !active || a == nil {
		return
	}
	c.runAdapter(op, func() { fn(a) })
}

// guard serializes callbacks that reach the adapter from outside the
// collector's own handlers, such as media listeners.
func (c *Collector) guard(fn func()) {
	c.withAdapter("callback", func(adapter.Adapter) { fn() })
}

func (c *Collector) guardedAfterFunc(d time.Duration, fn func()) timer.Handle {
	return c.afterFunc(d, func() { c.guard(fn) })
}

func (c *Collector) onClick(el *page.Element) {
	if el == nil {
		return
	}
	data := elementData(el)
	if label := el.Label(); label != "" {
		data["label"] = truncate(label, maxLabel)
	}
	if link := el.Closest(page.And(page.ByTag("a"), page.HasAttr("href"))); link != nil {
		data["href"] = link.Attr("href")
	}
	c.capture(event.TypeClick, event.CategoryInteraction, data)
	c.withAdapter("click", func(a adapter.Adapter) { a.HandleClick(el) })
}

// notePeak records the deepest point reached while scroll handling is
// throttled, so a milestone passed and scrolled back from still counts.
func (c *Collector) notePeak(depth float64) {
	c.mu.Lock()
	if depth > c.scrollPeak {
		c.scrollPeak = depth
	}
	c.mu.Unlock()
}

func (c *Collector) onScroll(s page.ScrollState) {
	c.mu.Lock()
	depth := max(s.Depth(), c.scrollPeak)
	c.scrollPeak = 0
	var crossed []int
	if c.state == Active && c.milestones != nil {
		crossed = c.milestones.Observe(depth)
	}
	c.mu.Unlock()

	for _, m := range crossed {
		c.capture(event.TypeScrollDepth, event.CategoryEngagement, map[string]any{"depth": m})
	}
	c.withAdapter("scroll", func(a adapter.Adapter) { a.HandleScroll(s) })
}

// onInput records field metadata. The typed value itself is never captured.
func (c *Collector) onInput(el *page.Element) {
	data := elementData(el)
	if name := el.Attr("name"); name != "" {
		data["name"] = name
	}
	if typ := el.Attr("type"); typ != "" {
		data["input_type"] = strings.ToLower(typ)
	}
	data["length"] = len([]rune(el.Value))
	c.capture(event.TypeInput, event.CategoryInteraction, data)
}

func (c *Collector) onNodeAdded(root *page.Element) {
	root.Walk(func(el *page.Element) {
		if !el.IsMedia() {
			return
		}
		c.withAdapter("media", func(a adapter.Adapter) { c.attachMediaLocked(a, el) })
	})
}

// attachMediaLocked attaches el once per session. Callers hold adapterMu.
func (c *Collector) attachMediaLocked(a adapter.Adapter, el *page.Element) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	if _, seen := c.media[el]; seen {
		c.mu.Unlock()
		return
	}
	c.media[el] = struct{}{}
	c.mu.Unlock()

	data := map[string]any{"tag": el.Tag}
	if el.Media != nil {
		if src := el.Media.State().Src; src != "" {
			data["src"] = src
		}
	}
	c.capture(event.TypeMediaAttach, event.CategoryMedia, data)
	c.runAdapter("media", func() { a.AttachMedia(el) })
}

// onURL handles both observer notifications and polling; whichever sees a
// new URL first wins.
func (c *Collector) onURL(to string) {
	c.mu.Lock()
	if c.state != Active || to == "" || to == c.lastURL {
		c.mu.Unlock()
		return
	}
	from := c.lastURL
	c.lastURL = to
	c.mu.Unlock()

	c.capture(event.TypeNavigation, event.CategoryNavigation, map[string]any{"from": from, "to": to})
	c.withAdapter("navigation", func(a adapter.Adapter) { a.HandleNavigation(from, to) })
}

func isTextField(el *page.Element) bool {
	if el == nil {
		return false
	}
	switch el.Tag {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(el.Attr("type")) {
		case "password", "hidden", "checkbox", "radio", "button", "submit", "file":
			return false
		}
		return true
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
