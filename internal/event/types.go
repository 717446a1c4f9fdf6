package event

// Event type constants emitted by the collector itself.
const (
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypePageView     = "page_view"
	TypePageExit     = "page_exit"
	TypeNavigation   = "navigation"
	TypeClick        = "click"
	TypeScrollDepth  = "scroll_depth"
	TypeInput        = "input"
	TypeMediaAttach  = "media_attach"
	TypeMediaPlay    = "media_play"
	TypeMediaPause   = "media_pause"
	TypeMediaEnded   = "media_ended"
	TypeOutboundLink = "outbound_click"
)

// Event type constants emitted by site adapters.
const (
	TypeVideoPlay          = "video_play"
	TypeVideoPause         = "video_pause"
	TypeVideoSeek          = "video_seek"
	TypeVideoRateChange    = "video_rate_change"
	TypeVideoQualityChange = "video_quality_change"
	TypeVideoProgress      = "video_progress"
	TypeVideoComplete      = "video_complete"
	TypeVideoExit          = "video_exit"
	TypeVideoWatch         = "video_watch"

	TypeAdStart    = "ad_start"
	TypeAdSkip     = "ad_skip"
	TypeAdComplete = "ad_complete"
	TypeAdClick    = "ad_click"

	TypeSearch = "search"

	TypePostView     = "post_view"
	TypePostOpen     = "post_open"
	TypePostUpvote   = "post_upvote"
	TypePostDownvote = "post_downvote"
	TypeTweetView    = "tweet_view"
	TypeArticleView  = "article_view"
	TypeArticleRead  = "article_read"
	TypeReadProgress = "read_progress"

	TypeLike      = "like"
	TypeDislike   = "dislike"
	TypeSubscribe = "subscribe"
	TypeFollow    = "follow"
	TypeShare     = "share"
	TypeSave      = "save"
	TypeBookmark  = "bookmark"
	TypeComment   = "comment"
	TypeReply     = "reply"
	TypeRetweet   = "retweet"
	TypeJoin      = "join_community"
	TypeAward     = "award"
	TypeClap      = "clap"
	TypeHighlight = "highlight"

	TypePlaybackStart    = "playback_start"
	TypePlaybackPause    = "playback_pause"
	TypePlaybackSeek     = "playback_seek"
	TypePlaybackProgress = "playback_progress"
	TypePlaybackComplete = "playback_complete"
	TypeSkipIntro        = "skip_intro"
	TypeNextEpisode      = "next_episode"
	TypeTitleExit        = "title_exit"
)
