package adapter

import (
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

// Ad positions.
const (
	AdPreRoll  = "pre-roll"
	AdMidRoll  = "mid-roll"
	AdPostRoll = "post-roll"
)

// ClassifyAdPosition places an ad relative to the content playhead:
// pre-roll before 5s, post-roll within the last 30s of a known duration,
// mid-roll otherwise.
func ClassifyAdPosition(currentTime, duration float64) string {
	switch {
	case currentTime < 5:
		return AdPreRoll
	case duration > 0 && currentTime >= duration-30:
		return AdPostRoll
	default:
		return AdMidRoll
	}
}

// adTracker detects ad breaks by checking the DOM for ad markup and emits the
// ad lifecycle. The content playhead is remembered while no ad plays so the
// break can be positioned.
type adTracker struct {
	env     Env
	present func(doc *page.Element) bool
	extra   func() map[string]any

	showing     bool
	skipped     bool
	startedAt   float64 // ad element time at start
	lastAdTime  float64
	contentTime float64
	contentDur  float64
	position    string
	breaksSeen  int
}

func newAdTracker(env Env, present func(doc *page.Element) bool, extra func() map[string]any) *adTracker {
	return &adTracker{env: env, present: present, extra: extra}
}

// Showing reports whether an ad break is in progress.
func (a *adTracker) Showing() bool { return a.showing }

// Observe re-checks the DOM on every media event.
func (a *adTracker) Observe(st page.MediaState) {
	now := a.present(a.env.Page.Document())
	switch {
	case now && !a.showing:
		a.showing = true
		a.skipped = false
		a.breaksSeen++
		a.startedAt = st.CurrentTime
		a.lastAdTime = st.CurrentTime
		a.position = ClassifyAdPosition(a.contentTime, a.contentDur)
		a.emit(event.TypeAdStart, map[string]any{"ad_duration": round1(st.Duration)})
	case now && a.showing:
		a.lastAdTime = st.CurrentTime
	case !now && a.showing:
		a.showing = false
		if !a.skipped {
			a.emit(event.TypeAdComplete, map[string]any{"watched": round1(a.lastAdTime - a.startedAt)})
		}
		a.contentTime = st.CurrentTime
		a.contentDur = st.Duration
	default:
		a.contentTime = st.CurrentTime
		a.contentDur = st.Duration
	}
}

// Skip records a skip click during a break.
func (a *adTracker) Skip() {
	if !a.showing || a.skipped {
		return
	}
	a.skipped = true
	a.emit(event.TypeAdSkip, map[string]any{"watched": round1(a.lastAdTime - a.startedAt)})
}

// Click records a click on the ad itself.
func (a *adTracker) Click() {
	if !a.showing {
		return
	}
	a.emit(event.TypeAdClick, nil)
}

// Reset forgets content position, e.g. on a new video.
func (a *adTracker) Reset() {
	a.showing = false
	a.skipped = false
	a.contentTime = 0
	a.contentDur = 0
}

func (a *adTracker) emit(typ string, data map[string]any) {
	d := map[string]any{"position": a.position, "break": a.breaksSeen}
	if a.extra != nil {
		for k, v := range a.extra() {
			d[k] = v
		}
	}
	for k, v := range data {
		d[k] = v
	}
	a.env.Emit(typ, event.CategoryAd, d)
}
