// Package earnings scores a persisted event collection against a dimensional
// pricing model and produces total, per-category and daily estimates.
package earnings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/graaaaa/attention-collector/internal/event"
)

// ErrInvalidPricing is returned when a pricing model is incomplete or inconsistent.
var ErrInvalidPricing = errors.New("invalid pricing")

// EnvPrefix selects environment overrides, e.g. ATTN_PRICING_BASE_VALUES__ENGAGEMENT=0.002.
const EnvPrefix = "ATTN_PRICING_"

// Category is a valuation category. It is distinct from event.Category.
type Category string

// Valuation categories.
const (
	Behavioral  Category = "behavioral"
	Engagement  Category = "engagement"
	Interaction Category = "interaction"
	Passive     Category = "passive"
	AdBehavior  Category = "ad_behavior"
)

// Categories lists every valuation category.
var Categories = []Category{Behavioral, Engagement, Interaction, Passive, AdBehavior}

// Step is one row of a step table.
type Step struct {
	Min        float64 `koanf:"min" json:"min"`
	Multiplier float64 `koanf:"multiplier" json:"multiplier"`
}

// StepTable maps a value to the multiplier of the first step it reaches.
// Steps must be ordered by descending Min. Strict requires value > Min.
type StepTable struct {
	Steps     []Step  `koanf:"steps" json:"steps"`
	Otherwise float64 `koanf:"otherwise" json:"otherwise"`
	Strict    bool    `koanf:"strict" json:"strict"`
}

// Lookup returns the multiplier for v.
func (t StepTable) Lookup(v float64) float64 {
	for _, s := range t.Steps {
		if v > s.Min || (!t.Strict && v == s.Min) {
			return s.Multiplier
		}
	}
	return t.Otherwise
}

// AgeBand applies Multiplier to events younger than Under.
type AgeBand struct {
	Under      time.Duration `koanf:"under" json:"under"`
	Multiplier float64       `koanf:"multiplier" json:"multiplier"`
}

// HourRange is an inclusive range of local hours.
type HourRange struct {
	From int `koanf:"from" json:"from"`
	To   int `koanf:"to" json:"to"`
}

// Contains reports whether hour h falls in the range.
func (r HourRange) Contains(h int) bool { return h >= r.From && h <= r.To }

// Market configures the time-of-day, weekday and content factors.
type Market struct {
	PeakHours      []HourRange        `koanf:"peak_hours" json:"peak_hours"`
	PeakFactor     float64            `koanf:"peak_factor" json:"peak_factor"`
	NightHours     HourRange          `koanf:"night_hours" json:"night_hours"`
	NightFactor    float64            `koanf:"night_factor" json:"night_factor"`
	OffPeakFactor  float64            `koanf:"off_peak_factor" json:"off_peak_factor"`
	WeekdayFactor  float64            `koanf:"weekday_factor" json:"weekday_factor"`
	WeekendFactor  float64            `koanf:"weekend_factor" json:"weekend_factor"`
	ContentFactors map[string]float64 `koanf:"content_factors" json:"content_factors"`
	DefaultContent float64            `koanf:"default_content" json:"default_content"`
}

// Breadth configures the variety/volume score over a trailing window.
type Breadth struct {
	Window           time.Duration `koanf:"window" json:"window"`
	Base             float64       `koanf:"base" json:"base"`
	TypeWeight       float64       `koanf:"type_weight" json:"type_weight"`
	TypeSaturation   float64       `koanf:"type_saturation" json:"type_saturation"`
	VolumeWeight     float64       `koanf:"volume_weight" json:"volume_weight"`
	VolumeSaturation float64       `koanf:"volume_saturation" json:"volume_saturation"`
}

// QualityCap scales a multiplier into quality points and caps the result.
type QualityCap struct {
	Scale float64 `koanf:"scale" json:"scale"`
	Cap   float64 `koanf:"cap" json:"cap"`
}

// Points returns min(m*Scale, Cap).
func (q QualityCap) Points(m float64) float64 { return min(m*q.Scale, q.Cap) }

// Quality configures per-event points and the session-level tier table.
type Quality struct {
	Depth     QualityCap `koanf:"depth" json:"depth"`
	Market    QualityCap `koanf:"market" json:"market"`
	Freshness QualityCap `koanf:"freshness" json:"freshness"`
	Breadth   QualityCap `koanf:"breadth" json:"breadth"`
	Tiers     StepTable  `koanf:"tiers" json:"tiers"`
}

// Pricing is the full valuation model.
type Pricing struct {
	Currency   string               `koanf:"currency" json:"currency"`
	BaseValues map[Category]float64 `koanf:"base_values" json:"base_values"`
	// EventTypes lists the event types of each category. Unlisted types are passive.
	EventTypes map[Category][]string `koanf:"event_types" json:"event_types"`

	VideoTypePrefixes []string      `koanf:"video_type_prefixes" json:"video_type_prefixes"`
	SearchTypes       []string      `koanf:"search_types" json:"search_types"`
	VideoDuration     StepTable     `koanf:"video_duration" json:"video_duration"`
	SearchTokens      StepTable     `koanf:"search_tokens" json:"search_tokens"`
	SessionDepth      StepTable     `koanf:"session_depth" json:"session_depth"`
	DepthWindow       time.Duration `koanf:"depth_window" json:"depth_window"`

	Market    Market    `koanf:"market" json:"market"`
	Freshness []AgeBand `koanf:"freshness" json:"freshness"`
	// StaleFactor applies to events older than every freshness band.
	StaleFactor float64 `koanf:"stale_factor" json:"stale_factor"`
	Breadth     Breadth `koanf:"breadth" json:"breadth"`
	Quality     Quality `koanf:"quality" json:"quality"`
	// FloorPerEvent clamps per-event earnings from below.
	FloorPerEvent float64 `koanf:"floor_per_event" json:"floor_per_event"`
}

// DefaultPricing returns the built-in pricing model.
func DefaultPricing() Pricing {
	return Pricing{
		Currency: "$",
		BaseValues: map[Category]float64{
			Behavioral:  0.0008,
			Engagement:  0.0015,
			Interaction: 0.0005,
			Passive:     0.0002,
			AdBehavior:  0.002,
		},
		EventTypes: map[Category][]string{
			Behavioral: {
				event.TypePageView, event.TypePageExit, event.TypeNavigation, event.TypeScrollDepth,
				event.TypeSearch, event.TypePostView, event.TypePostOpen, event.TypeTweetView,
				event.TypeArticleView, event.TypeArticleRead, event.TypeReadProgress,
				event.TypeVideoWatch, event.TypeVideoExit, event.TypeTitleExit,
			},
			Engagement: {
				event.TypeLike, event.TypeDislike, event.TypeSubscribe, event.TypeFollow,
				event.TypeShare, event.TypeSave, event.TypeBookmark, event.TypeComment,
				event.TypeReply, event.TypeRetweet, event.TypeJoin, event.TypeAward,
				event.TypeClap, event.TypeHighlight, event.TypePostUpvote, event.TypePostDownvote,
			},
			Interaction: {
				event.TypeClick, event.TypeInput, event.TypeOutboundLink,
				event.TypeVideoPlay, event.TypeVideoPause, event.TypeVideoSeek,
				event.TypeVideoRateChange, event.TypeVideoQualityChange,
				event.TypePlaybackStart, event.TypePlaybackPause, event.TypePlaybackSeek,
				event.TypeSkipIntro, event.TypeNextEpisode,
				event.TypeMediaPlay, event.TypeMediaPause,
			},
			Passive: {
				event.TypeVideoProgress, event.TypeVideoComplete,
				event.TypePlaybackProgress, event.TypePlaybackComplete,
				event.TypeMediaAttach, event.TypeMediaEnded,
				event.TypeSessionStart, event.TypeSessionEnd,
			},
			AdBehavior: {
				event.TypeAdStart, event.TypeAdSkip, event.TypeAdComplete, event.TypeAdClick,
			},
		},
		VideoTypePrefixes: []string{"video_", "playback_"},
		SearchTypes:       []string{event.TypeSearch},
		VideoDuration: StepTable{
			Steps:     []Step{{900, 1.6}, {300, 1.3}, {30, 1.0}},
			Otherwise: 0.5,
			Strict:    true,
		},
		SearchTokens: StepTable{
			Steps:     []Step{{6, 1.4}, {3, 1.2}, {1, 1.0}},
			Otherwise: 0.6,
		},
		SessionDepth: StepTable{
			Steps:     []Step{{15, 1.5}, {5, 1.0}},
			Otherwise: 0.6,
		},
		DepthWindow: 300 * time.Second,
		Market: Market{
			PeakHours:      []HourRange{{7, 9}, {12, 14}, {18, 22}},
			PeakFactor:     1.4,
			NightHours:     HourRange{0, 6},
			NightFactor:    0.6,
			OffPeakFactor:  1.0,
			WeekdayFactor:  1.2,
			WeekendFactor:  0.8,
			DefaultContent: 1.0,
		},
		Freshness: []AgeBand{
			{time.Hour, 1.5},
			{24 * time.Hour, 1.2},
			{7 * 24 * time.Hour, 1.0},
			{28 * 24 * time.Hour, 0.7},
		},
		StaleFactor: 0.3,
		Breadth: Breadth{
			Window:           3600 * time.Second,
			Base:             0.5,
			TypeWeight:       0.3,
			TypeSaturation:   10,
			VolumeWeight:     0.2,
			VolumeSaturation: 50,
		},
		Quality: Quality{
			Depth:     QualityCap{Scale: 2, Cap: 3},
			Market:    QualityCap{Scale: 1.5, Cap: 2.5},
			Freshness: QualityCap{Scale: 1.7, Cap: 2.5},
			Breadth:   QualityCap{Scale: 2, Cap: 2},
			Tiers: StepTable{
				Steps:     []Step{{0.8, 1.5}, {0.6, 1.2}, {0.4, 1.0}, {0.2, 0.7}},
				Otherwise: 0.4,
			},
		},
	}
}

// Validate reports configuration errors. A missing base value for any category
// is an error; there is no silent default.
func (p Pricing) Validate() error {
	var errs []error
	for _, c := range Categories {
		v, ok := p.BaseValues[c]
		if !ok {
			errs = append(errs, fmt.Errorf("base value for %q is missing", c))
			continue
		}
		if v < 0 {
			errs = append(errs, fmt.Errorf("base value for %q is negative", c))
		}
	}
	for c := range p.BaseValues {
		if !validCategory(c) {
			errs = append(errs, fmt.Errorf("unknown category %q", c))
		}
	}

	owner := make(map[string]Category)
	for _, c := range Categories {
		for _, typ := range p.EventTypes[c] {
			if prev, dup := owner[typ]; dup {
				errs = append(errs, fmt.Errorf("event type %q listed under both %q and %q", typ, prev, c))
				continue
			}
			owner[typ] = c
		}
	}

	for name, t := range map[string]StepTable{
		"video_duration": p.VideoDuration,
		"search_tokens":  p.SearchTokens,
		"session_depth":  p.SessionDepth,
		"quality.tiers":  p.Quality.Tiers,
	} {
		for i := 1; i < len(t.Steps); i++ {
			if t.Steps[i].Min > t.Steps[i-1].Min {
				errs = append(errs, fmt.Errorf("%s steps must be in descending order", name))
				break
			}
		}
	}
	for i := 1; i < len(p.Freshness); i++ {
		if p.Freshness[i].Under <= p.Freshness[i-1].Under {
			errs = append(errs, errors.New("freshness bands must be in ascending order"))
			break
		}
	}
	if p.DepthWindow <= 0 || p.Breadth.Window <= 0 {
		errs = append(errs, errors.New("depth and breadth windows must be positive"))
	}
	if p.Breadth.TypeSaturation <= 0 || p.Breadth.VolumeSaturation <= 0 {
		errs = append(errs, errors.New("breadth saturation values must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPricing, errors.Join(errs...))
	}
	return nil
}

func validCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// LoadPricing reads a YAML pricing file (if present) and ATTN_PRICING_* overrides
// on top of DefaultPricing. Maps merge per key; lists present in the file
// replace the default list. The result is validated.
func LoadPricing(path string) (Pricing, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Pricing{}, fmt.Errorf("load pricing file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return Pricing{}, fmt.Errorf("load pricing env: %w", err)
	}

	p := DefaultPricing()
	p.resetLists(k.Exists)
	if err := k.Unmarshal("", &p); err != nil {
		return Pricing{}, fmt.Errorf("decode pricing: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pricing{}, err
	}
	return p, nil
}

// resetLists clears every default list the loaded config provides so the
// decoder replaces it instead of merging element by element.
func (p *Pricing) resetLists(has func(string) bool) {
	lists := map[string]func(){
		"video_type_prefixes":  func() { p.VideoTypePrefixes = nil },
		"search_types":         func() { p.SearchTypes = nil },
		"video_duration.steps": func() { p.VideoDuration.Steps = nil },
		"search_tokens.steps":  func() { p.SearchTokens.Steps = nil },
		"session_depth.steps":  func() { p.SessionDepth.Steps = nil },
		"market.peak_hours":    func() { p.Market.PeakHours = nil },
		"freshness":            func() { p.Freshness = nil },
		"quality.tiers.steps":  func() { p.Quality.Tiers.Steps = nil },
	}
	for key, reset := range lists {
		if has(key) {
			reset()
		}
	}
}
