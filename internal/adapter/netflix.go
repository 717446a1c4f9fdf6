package adapter

import (
	"strings"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

var netflixRules = []actionRule{
	{event.TypeSkipIntro, anyOf(
		attrIs("data-uia", "player-skip-intro", "player-skip-recap"),
		labelHas("skip intro", "skip recap"),
	)},
	{event.TypeNextEpisode, anyOf(
		attrIs("data-uia", "next-episode-seamless-button", "control-next"),
		labelHas("next episode"),
	)},
}

var netflixAdShowing = page.Or(
	page.ByAttr("data-uia", "ads-info-container"),
	page.ByClass("ad-break-indicator"),
	page.ByAttrContains("data-uia", "ad-countdown"),
)

type netflix struct {
	base
	ads   *adTracker
	title *watchSession
}

func newNetflix(env Env) *netflix {
	n := &netflix{}
	cfg := mediaConfig{
		category:        event.CategoryPlayback,
		play:            event.TypePlaybackStart,
		pause:           event.TypePlaybackPause,
		seek:            event.TypePlaybackSeek,
		progress:        event.TypePlaybackProgress,
		complete:        event.TypePlaybackComplete,
		checkpointEvery: 60,
		extra:           func(*page.Element) map[string]any { return map[string]any{"title_id": n.titleID()} },
		suppress:        func(*page.Element) bool { return n.ads.Showing() },
		observe: func(_ *page.Element, ev page.MediaEvent) {
			n.ads.Observe(ev.State)
			if !n.ads.Showing() && n.title != nil {
				n.title.observe(n.now(), ev)
			}
		},
	}
	n.base = newBase(env, string(VariantNetflix), cfg)
	n.ads = newAdTracker(env, func(doc *page.Element) bool {
		return doc != nil && doc.Find(netflixAdShowing) != nil
	}, func() map[string]any { return map[string]any{"title_id": n.titleID()} })
	return n
}

func (n *netflix) titleID() string {
	if n.title == nil {
		return ""
	}
	return n.title.id
}

func (n *netflix) Initialize() {
	n.base.Initialize()
	n.enter(n.env.Page.URL())
}

func (n *netflix) enter(raw string) {
	n.title = nil
	if id := NetflixTitleID(raw); id != "" {
		n.title = &watchSession{id: id, started: n.now()}
	}
}

func (n *netflix) exitTitle() {
	if n.title == nil {
		return
	}
	n.emit(event.TypeTitleExit, event.CategoryPlayback, n.title.summary(n.now(), "title_id"))
	n.title = nil
}

func (n *netflix) HandleClick(el *page.Element) {
	n.trackOutbound(el)
	action, control, ok := classifyAction(netflixRules, el)
	if !ok {
		return
	}
	n.emit(action, event.CategoryPlayback, map[string]any{
		"title_id": n.titleID(),
		"label":    truncate(control.Label(), 80),
	})
}

func (n *netflix) HandleNavigation(from, to string) {
	n.exitTitle()
	n.base.HandleNavigation(from, to)
	n.ads.Reset()
	n.media.Rewind()
	n.enter(to)
}

func (n *netflix) Cleanup() {
	n.exitTitle()
	n.base.Cleanup()
}

// NetflixTitleID returns the numeric id from a /watch/<id> URL.
func NetflixTitleID(raw string) string {
	id := pathSegmentAfter(raw, "watch")
	if id == "" || strings.Trim(id, "0123456789") != "" {
		return ""
	}
	return id
}
