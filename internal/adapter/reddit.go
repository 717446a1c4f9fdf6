package adapter

import (
	"strings"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

var redditRules = []actionRule{
	{event.TypePostUpvote, anyOf(labelHas("upvote"), hasAttr("upvote"))},
	{event.TypePostDownvote, anyOf(labelHas("downvote"), hasAttr("downvote"))},
	{event.TypeJoin, labelHas("join")},
	{event.TypeAward, labelHas("award")},
	{event.TypeComment, labelHas("comment", "reply")},
	{event.TypeShare, labelHas("share")},
	{event.TypeSave, labelHas("save")},
}

var redditPost = page.Or(
	page.ByTag("shreddit-post"),
	page.ByAttr("data-testid", "post-container"),
	page.And(page.ByClass("thing"), page.ByAttrContains("data-fullname", "t3_")),
)

type reddit struct {
	base
	views *viewTracker
}

func newReddit(env Env) *reddit {
	return &reddit{
		base:  newBase(env, string(VariantReddit), defaultMediaConfig()),
		views: newViewTracker(redditPost, redditPostID),
	}
}

func (r *reddit) Initialize() {
	r.base.Initialize()
	r.openPost(r.env.Page.URL())
	r.scan(r.env.Page.Scroll())
}

func (r *reddit) HandleScroll(s page.ScrollState) {
	r.base.HandleScroll(s)
	r.scan(s)
}

func (r *reddit) scan(s page.ScrollState) {
	for _, v := range r.views.Scan(r.env.Page.Document(), s) {
		r.emit(event.TypePostView, event.CategoryEngagement, map[string]any{
			"post_id":   v.id,
			"subreddit": r.subreddit(v.el),
			"title":     truncate(v.el.Attr("post-title"), 120),
			"post_type": v.el.Attr("post-type"),
			"position":  v.position,
		})
	}
}

func (r *reddit) HandleClick(el *page.Element) {
	r.trackOutbound(el)
	action, control, ok := classifyAction(redditRules, el)
	if !ok {
		return
	}
	data := map[string]any{
		"label":     truncate(control.Label(), 80),
		"subreddit": r.subreddit(control),
	}
	if post := control.Closest(redditPost); post != nil {
		data["post_id"] = redditPostID(post)
	} else if id := pathSegmentAfter(r.env.Page.URL(), "comments"); id != "" {
		data["post_id"] = id
	}
	r.emit(action, event.CategoryEngagement, data)
}

func (r *reddit) HandleNavigation(from, to string) {
	r.base.HandleNavigation(from, to)
	r.openPost(to)
}

func (r *reddit) openPost(raw string) {
	id := pathSegmentAfter(raw, "comments")
	if id == "" {
		return
	}
	r.emit(event.TypePostOpen, event.CategoryNavigation, map[string]any{
		"post_id":   id,
		"subreddit": pathSegmentAfter(raw, "r"),
	})
}

// subreddit prefers the post's own attribute over the page URL.
func (r *reddit) subreddit(el *page.Element) string {
	if post := el.Closest(redditPost); post != nil {
		if name := post.Attr("subreddit-prefixed-name"); name != "" {
			return strings.TrimPrefix(name, "r/")
		}
		if name := post.Attr("data-subreddit"); name != "" {
			return name
		}
	}
	return pathSegmentAfter(r.env.Page.URL(), "r")
}

func redditPostID(el *page.Element) string {
	for _, v := range []string{el.ID, el.Attr("id"), el.Attr("data-fullname")} {
		if strings.HasPrefix(v, "t3_") {
			return strings.TrimPrefix(v, "t3_")
		}
	}
	if link := el.Find(page.ByAttrContains("href", "/comments/")); link != nil {
		return pathSegmentAfter(link.Attr("href"), "comments")
	}
	if p := el.Attr("permalink"); p != "" {
		return pathSegmentAfter(p, "comments")
	}
	return ""
}
