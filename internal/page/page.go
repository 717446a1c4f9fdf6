package page

import (
	"net/url"
	"strings"
)

// Viewport is the visible window size in px.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScrollState describes the vertical scroll position.
type ScrollState struct {
	Y              float64 `json:"y"`
	ViewportHeight float64 `json:"viewport_height"`
	DocumentHeight float64 `json:"document_height"`
}

// Depth returns how far down the document the bottom of the viewport is, 0..100.
func (s ScrollState) Depth() float64 {
	if s.DocumentHeight <= 0 {
		return 0
	}
	if s.DocumentHeight <= s.ViewportHeight {
		return 100
	}
	d := (s.Y + s.ViewportHeight) / s.DocumentHeight * 100
	switch {
	case d < 0:
		return 0
	case d > 100:
		return 100
	}
	return d
}

// InView reports whether the element's layout box intersects the viewport.
func (s ScrollState) InView(e *Element) bool {
	if e == nil || e.Height <= 0 {
		return false
	}
	top, bottom := s.Y, s.Y+s.ViewportHeight
	return e.Top < bottom && e.Top+e.Height > top
}

// Page is the surface a collector attaches to. Every registration returns an
// unsubscribe func.
type Page interface {
	URL() string
	Title() string
	UserAgent() string
	Viewport() Viewport
	Scroll() ScrollState
	Document() *Element

	OnClick(fn func(*Element)) func()
	OnScroll(fn func(ScrollState)) func()
	OnInput(fn func(*Element)) func()
	OnUnload(fn func()) func()

	Observer() Observer
}

// Observer reports DOM insertions and URL changes.
type Observer interface {
	OnNodeAdded(fn func(*Element)) func()
	OnURLChanged(fn func(from, to string)) func()
}

// Hostname returns the lower-cased host of raw, without port.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
