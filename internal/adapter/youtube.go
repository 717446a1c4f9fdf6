package adapter

import (
	"net/url"
	"strings"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

var youtubeRules = []actionRule{
	{event.TypeDislike, labelHas("dislike")},
	{event.TypeLike, labelHas("like")},
	{event.TypeSubscribe, labelHas("subscribe")},
	{event.TypeShare, labelHas("share")},
	{event.TypeSave, labelHas("save", "watch later")},
	{event.TypeComment, labelHas("comment")},
}

var (
	youtubeSkipButton = page.Or(
		page.ByClass("ytp-ad-skip-button"),
		page.ByClass("ytp-ad-skip-button-modern"),
		page.ByClass("ytp-skip-ad-button"),
	)
	youtubeAdClick = page.Or(
		page.ByClass("ytp-ad-button"),
		page.ByClass("ytp-ad-visit-advertiser-button"),
		page.ByClass("ytp-ad-component--clickable"),
	)
	youtubeAdShowing = page.Or(
		page.And(page.ByClass("html5-video-player"), page.ByClass("ad-showing")),
		page.ByClass("ytp-ad-player-overlay"),
		page.ByClass("ytp-ad-player-overlay-layout"),
	)
)

type youtube struct {
	base
	ads   *adTracker
	watch *watchSession
}

func newYouTube(env Env) *youtube {
	y := &youtube{}
	cfg := defaultMediaConfig()
	cfg.checkpointEvery = 10
	cfg.extra = func(*page.Element) map[string]any { return map[string]any{"video_id": y.videoID()} }
	cfg.suppress = func(*page.Element) bool { return y.ads.Showing() }
	cfg.observe = func(_ *page.Element, ev page.MediaEvent) {
		y.ads.Observe(ev.State)
		if !y.ads.Showing() && y.watch != nil {
			y.watch.observe(y.now(), ev)
		}
	}
	y.base = newBase(env, string(VariantYouTube), cfg)
	y.ads = newAdTracker(env, func(doc *page.Element) bool {
		return doc != nil && doc.Find(youtubeAdShowing) != nil
	}, func() map[string]any { return map[string]any{"video_id": y.videoID()} })
	return y
}

func (y *youtube) videoID() string {
	if y.watch == nil {
		return ""
	}
	return y.watch.id
}

func (y *youtube) Initialize() {
	y.base.Initialize()
	y.enter(y.env.Page.URL())
}

// enter sets up state for the page at raw.
func (y *youtube) enter(raw string) {
	y.watch = nil
	if id := YouTubeVideoID(raw); id != "" {
		y.watch = &watchSession{id: id, started: y.now()}
	}
	if urlPath(raw) == "/results" {
		if q := strings.TrimSpace(queryParam(raw, "search_query")); q != "" {
			y.emit(event.TypeSearch, event.CategoryInteraction, map[string]any{
				"query":  q,
				"tokens": len(strings.Fields(q)),
			})
		}
	}
}

func (y *youtube) exitVideo() {
	if y.watch == nil {
		return
	}
	y.emit(event.TypeVideoExit, event.CategoryMedia, y.watch.summary(y.now(), "video_id"))
	y.watch = nil
}

func (y *youtube) HandleClick(el *page.Element) {
	y.trackOutbound(el)
	if el.Closest(youtubeSkipButton) != nil {
		y.ads.Skip()
		return
	}
	if el.Closest(youtubeAdClick) != nil {
		y.ads.Click()
		return
	}
	action, control, ok := classifyAction(youtubeRules, el)
	if !ok {
		return
	}
	y.emit(action, event.CategoryEngagement, map[string]any{
		"video_id": y.videoID(),
		"label":    truncate(control.Label(), 80),
	})
}

func (y *youtube) HandleNavigation(from, to string) {
	y.exitVideo()
	y.base.HandleNavigation(from, to)
	y.ads.Reset()
	y.media.Rewind()
	y.enter(to)
}

func (y *youtube) Cleanup() {
	y.exitVideo()
	y.base.Cleanup()
}

// YouTubeVideoID extracts the video id from watch, shorts, embed and
// youtu.be URLs.
func YouTubeVideoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	if u.Path == "/watch" {
		return u.Query().Get("v")
	}
	for _, marker := range []string{"shorts", "embed", "live"} {
		if id := pathSegmentAfter(raw, marker); id != "" {
			return id
		}
	}
	return ""
}
