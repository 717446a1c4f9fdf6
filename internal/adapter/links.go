package adapter

import "strings"

// Link categories for outbound clicks.
const (
	LinkSocial   = "social"
	LinkSearch   = "search"
	LinkShopping = "shopping"
	LinkNews     = "news"
	LinkVideo    = "video"
	LinkOther    = "other"
)

var linkDomains = []struct {
	category string
	domains  []string
}{
	{LinkSocial, []string{"facebook.com", "instagram.com", "twitter.com", "x.com", "reddit.com", "linkedin.com", "tiktok.com", "pinterest.com", "threads.net"}},
	{LinkSearch, []string{"google.com", "bing.com", "duckduckgo.com", "yahoo.com", "baidu.com"}},
	{LinkShopping, []string{"amazon.com", "ebay.com", "etsy.com", "walmart.com", "aliexpress.com", "shopify.com"}},
	{LinkNews, []string{"nytimes.com", "bbc.com", "bbc.co.uk", "cnn.com", "theguardian.com", "reuters.com", "apnews.com", "medium.com"}},
	{LinkVideo, []string{"youtube.com", "youtu.be", "vimeo.com", "twitch.tv", "netflix.com"}},
}

// ClassifyLink groups a destination host.
func ClassifyLink(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, group := range linkDomains {
		for _, d := range group.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return group.category
			}
		}
	}
	return LinkOther
}
