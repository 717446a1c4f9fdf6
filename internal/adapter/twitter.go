package adapter

import (
	"strings"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

// twitterRules are keyed mostly on data-testid. An empty action means the
// control is recognised but not an engagement (undo actions, the repost menu
// opener).
var twitterRules = []actionRule{
	{"", attrIs("data-testid", "unlike", "unretweet", "removeBookmark", "retweet")},
	{"", attrSuffix("data-testid", "-unfollow")},
	{event.TypeLike, attrIs("data-testid", "like")},
	{event.TypeRetweet, attrIs("data-testid", "retweetConfirm")},
	{event.TypeReply, attrIs("data-testid", "reply")},
	{event.TypeBookmark, attrIs("data-testid", "bookmark")},
	{event.TypeFollow, attrSuffix("data-testid", "-follow")},
	{event.TypeShare, labelHas("share")},
	{event.TypeFollow, labelHas("follow")},
	{event.TypeLike, labelHas("like")},
	{event.TypeRetweet, labelHas("repost", "retweet")},
	{event.TypeReply, labelHas("reply")},
	{event.TypeBookmark, labelHas("bookmark")},
}

var twitterTweet = page.And(page.ByTag("article"), page.ByAttr("data-testid", "tweet"))

var twitterStatusLink = page.And(page.ByTag("a"), page.ByAttrContains("href", "/status/"))

type twitter struct {
	base
	views *viewTracker
}

func newTwitter(env Env) *twitter {
	cfg := defaultMediaConfig()
	cfg.checkpointEvery = 10
	cfg.extra = func(el *page.Element) map[string]any {
		if tw := el.Closest(twitterTweet); tw != nil {
			return map[string]any{"tweet_id": tweetID(tw)}
		}
		return nil
	}
	return &twitter{
		base:  newBase(env, string(VariantTwitter), cfg),
		views: newViewTracker(twitterTweet, tweetID),
	}
}

func (t *twitter) Initialize() {
	t.base.Initialize()
	t.scan(t.env.Page.Scroll())
}

func (t *twitter) HandleScroll(s page.ScrollState) {
	t.base.HandleScroll(s)
	t.scan(s)
}

func (t *twitter) scan(s page.ScrollState) {
	for _, v := range t.views.Scan(t.env.Page.Document(), s) {
		t.emit(event.TypeTweetView, event.CategoryEngagement, map[string]any{
			"tweet_id":  v.id,
			"author":    tweetAuthor(v.el),
			"position":  v.position,
			"has_media": v.el.Find(page.ByTag("video", "img")) != nil,
		})
	}
}

func (t *twitter) HandleClick(el *page.Element) {
	t.trackOutbound(el)
	action, control, ok := classifyAction(twitterRules, el)
	if !ok || action == "" {
		return
	}
	data := map[string]any{"label": truncate(control.Label(), 80)}
	if tw := control.Closest(twitterTweet); tw != nil {
		data["tweet_id"] = tweetID(tw)
		data["author"] = tweetAuthor(tw)
	} else if id := pathSegmentAfter(t.env.Page.URL(), "status"); id != "" {
		data["tweet_id"] = id
	}
	t.emit(action, event.CategoryEngagement, data)
}

func tweetID(tw *page.Element) string {
	link := tw.Find(twitterStatusLink)
	if link == nil {
		return ""
	}
	return pathSegmentAfter(link.Attr("href"), "status")
}

func tweetAuthor(tw *page.Element) string {
	link := tw.Find(twitterStatusLink)
	if link == nil {
		return ""
	}
	p := strings.Trim(urlPath(link.Attr("href")), "/")
	author, _, _ := strings.Cut(p, "/")
	return author
}
