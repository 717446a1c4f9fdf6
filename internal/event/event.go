// Package event provides the shared Event model for the attention collector.
// This package is used by adapter, collector, storage, upload and earnings packages.
package event

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category groups event types. Every event belongs to exactly one category.
type Category string

// Category constants.
const (
	CategorySession     Category = "session"
	CategoryNavigation  Category = "navigation"
	CategoryInteraction Category = "interaction"
	CategoryEngagement  Category = "engagement"
	CategoryMedia       Category = "media"
	CategoryAd          Category = "ad"
	CategoryPlayback    Category = "playback"
)

// Categories lists every valid category.
var Categories = []Category{
	CategorySession,
	CategoryNavigation,
	CategoryInteraction,
	CategoryEngagement,
	CategoryMedia,
	CategoryAd,
	CategoryPlayback,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Viewport is the visible page area at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Event is the atomic unit of telemetry. Treat it as immutable once created.
type Event struct {
	Type      string         `json:"event_type"`
	Category  Category       `json:"category"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	PageURL   string         `json:"page_url"`
	Site      string         `json:"site"`
	Adapter   string         `json:"adapter"`
	UserAgent string         `json:"user_agent,omitempty"`
	Viewport  Viewport       `json:"viewport"`
	Data      map[string]any `json:"data,omitempty"`
}

// Float returns a numeric data attribute. JSON round trips turn numbers into float64,
// so all numeric kinds are accepted.
func (e *Event) Float(key string) (float64, bool) {
	v, ok := e.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// String returns a string data attribute or "".
func (e *Event) String(key string) string {
	if s, ok := e.Data[key].(string); ok {
		return s
	}
	return ""
}

// NewSessionID returns a session identifier made of the capture time and a random suffix.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + suffix
}
