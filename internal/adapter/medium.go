package adapter

import (
	"math"
	"strings"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/timer"
)

const (
	wordsPerMinute = 265
	readDepth      = 80
	readDwell      = 30 * time.Second
)

var mediumRules = []actionRule{
	{event.TypeClap, anyOf(labelHas("clap"), attrIs("data-testid", "headerClapButton", "footerClapButton"))},
	{event.TypeFollow, labelHas("follow")},
	{event.TypeHighlight, labelHas("highlight")},
	{event.TypeBookmark, labelHas("bookmark", "save")},
	{event.TypeShare, labelHas("share")},
	{event.TypeComment, labelHas("respond", "comment")},
}

type medium struct {
	base
	articleID string
	words     int
	progress  *page.Milestones
	readSent  bool
	readTimer timer.Handle
}

func newMedium(env Env) *medium {
	return &medium{
		base:     newBase(env, string(VariantMedium), defaultMediaConfig()),
		progress: page.NewMilestones(25, 50, 75, 100),
	}
}

func (m *medium) Initialize() {
	m.base.Initialize()
	m.enter()
}

// enter starts tracking the article on the current page, if any.
func (m *medium) enter() {
	m.stopTimer()
	m.articleID = ""
	m.words = 0
	m.readSent = false
	m.progress.Reset()

	article := m.env.Page.Document().Find(page.ByTag("article"))
	if article == nil {
		return
	}
	m.articleID = MediumArticleID(m.env.Page.URL())
	m.words = countWords(article)
	m.emit(event.TypeArticleView, event.CategoryEngagement, map[string]any{
		"article_id":   m.articleID,
		"title":        truncate(m.env.Page.Title(), 120),
		"word_count":   m.words,
		"reading_time": ReadingMinutes(m.words),
	})
	m.readTimer = m.env.AfterFunc(readDwell, m.checkRead)
}

func (m *medium) stopTimer() {
	if m.readTimer != nil {
		m.readTimer.Stop()
		m.readTimer = nil
	}
}

// checkRead emits article_read once the reader is deep enough for long enough.
func (m *medium) checkRead() {
	if m.readSent || m.articleID == "" {
		return
	}
	if m.maxDepth < readDepth || m.dwell() < readDwell {
		return
	}
	m.readSent = true
	m.emit(event.TypeArticleRead, event.CategoryEngagement, map[string]any{
		"article_id":   m.articleID,
		"dwell_ms":     m.dwell().Milliseconds(),
		"scroll_depth": round1(m.maxDepth),
	})
}

func (m *medium) HandleScroll(s page.ScrollState) {
	m.base.HandleScroll(s)
	if m.articleID == "" {
		return
	}
	for _, mark := range m.progress.Observe(s.Depth()) {
		m.emit(event.TypeReadProgress, event.CategoryEngagement, map[string]any{
			"article_id": m.articleID,
			"milestone":  mark,
		})
	}
	m.checkRead()
}

func (m *medium) HandleClick(el *page.Element) {
	m.trackOutbound(el)
	action, control, ok := classifyAction(mediumRules, el)
	if !ok {
		return
	}
	m.emit(action, event.CategoryEngagement, map[string]any{
		"article_id": m.articleID,
		"label":      truncate(control.Label(), 80),
	})
}

func (m *medium) HandleNavigation(from, to string) {
	m.base.HandleNavigation(from, to)
	m.enter()
}

func (m *medium) Cleanup() {
	m.stopTimer()
	m.base.Cleanup()
}

// MediumArticleID returns the hex suffix of an article slug,
// e.g. "/@a/some-title-1a2b3c4d5e6f" -> "1a2b3c4d5e6f".
func MediumArticleID(raw string) string {
	p := strings.Trim(urlPath(raw), "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndexByte(p, '-'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ReadingMinutes estimates reading time, never less than a minute.
func ReadingMinutes(words int) int {
	return max(1, int(math.Round(float64(words)/wordsPerMinute)))
}

func countWords(el *page.Element) int {
	n := 0
	el.Walk(func(e *page.Element) {
		n += len(strings.Fields(e.Text))
	})
	return n
}
