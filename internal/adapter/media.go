package adapter

import (
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

// mediaConfig names the events a media tracker emits. Empty type names
// suppress that event.
type mediaConfig struct {
	category        event.Category
	play            string
	pause           string
	seek            string
	rateChange      string
	qualityChange   string
	progress        string
	complete        string
	checkpointEvery float64 // seconds of playback between progress events
	// extra adds variant attributes (video id, title id) to every event.
	extra func(el *page.Element) map[string]any
	// suppress skips emission, e.g. while an ad plays in the same element.
	suppress func(el *page.Element) bool
	// observe sees every media event before emission.
	observe func(el *page.Element, ev page.MediaEvent)
}

func defaultMediaConfig() mediaConfig {
	return mediaConfig{
		category:        event.CategoryMedia,
		play:            event.TypeVideoPlay,
		pause:           event.TypeVideoPause,
		seek:            event.TypeVideoSeek,
		rateChange:      event.TypeVideoRateChange,
		qualityChange:   event.TypeVideoQualityChange,
		progress:        event.TypeVideoProgress,
		complete:        event.TypeVideoComplete,
		checkpointEvery: 30,
	}
}

// mediaSession is the per-element playback state.
type mediaSession struct {
	unsubscribe func()
	checkpoints map[int]struct{}
	lastTime    float64
	maxTime     float64
	lastRate    float64
	lastQuality string
	src         string
	completed   bool
}

// mediaTracker attaches to media elements once and turns media events into
// lifecycle events with fixed-cadence progress checkpoints.
type mediaTracker struct {
	env      Env
	cfg      mediaConfig
	sessions map[*page.Element]*mediaSession
}

func newMediaTracker(env Env, cfg mediaConfig) *mediaTracker {
	if cfg.checkpointEvery <= 0 {
		cfg.checkpointEvery = 30
	}
	return &mediaTracker{env: env, cfg: cfg, sessions: make(map[*page.Element]*mediaSession)}
}

// Attach subscribes to el. Returns false if el is not media or already attached.
func (t *mediaTracker) Attach(el *page.Element) bool {
	if el == nil || el.Media == nil {
		return false
	}
	if _, ok := t.sessions[el]; ok {
		return false
	}
	st := el.Media.State()
	s := &mediaSession{
		checkpoints: make(map[int]struct{}),
		lastRate:    st.PlaybackRate,
		lastQuality: st.Quality,
		lastTime:    st.CurrentTime,
		src:         st.Src,
	}
	t.sessions[el] = s
	s.unsubscribe = el.Media.Listen(func(ev page.MediaEvent) {
		t.env.Guard(func() { t.handle(el, s, ev) })
	})
	return true
}

// Attached returns the number of tracked elements.
func (t *mediaTracker) Attached() int { return len(t.sessions) }

// Rewind clears checkpoint and completion state for every element, used when
// an element is reused for new content.
func (t *mediaTracker) Rewind() {
	for _, s := range t.sessions {
		s.checkpoints = make(map[int]struct{})
		s.completed = false
		s.maxTime = 0
	}
}

// DetachAll unsubscribes from every element.
func (t *mediaTracker) DetachAll() {
	for el, s := range t.sessions {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		delete(t.sessions, el)
	}
}

func (t *mediaTracker) handle(el *page.Element, s *mediaSession, ev page.MediaEvent) {
	if t.cfg.observe != nil {
		t.cfg.observe(el, ev)
	}
	st := ev.State
	if st.Src != "" && st.Src != s.src {
		// New source in the same element: checkpoints start over.
		s.src = st.Src
		s.checkpoints = make(map[int]struct{})
		s.completed = false
		s.maxTime = 0
	}
	prevTime := s.lastTime
	s.lastTime = st.CurrentTime
	if st.CurrentTime > s.maxTime {
		s.maxTime = st.CurrentTime
	}

	if t.cfg.suppress != nil && t.cfg.suppress(el) {
		return
	}

	data := func(extra map[string]any) map[string]any {
		d := map[string]any{
			"current_time": round1(st.CurrentTime),
			"duration":     round1(st.Duration),
		}
		if st.Src != "" {
			d["src"] = st.Src
		}
		if t.cfg.extra != nil {
			for k, v := range t.cfg.extra(el) {
				d[k] = v
			}
		}
		for k, v := range extra {
			d[k] = v
		}
		return d
	}

	switch ev.Kind {
	case page.MediaPlay:
		t.emit(t.cfg.play, data(nil))
	case page.MediaPause:
		t.emit(t.cfg.pause, data(nil))
	case page.MediaSeeked:
		t.emit(t.cfg.seek, data(map[string]any{"from": round1(prevTime), "to": round1(st.CurrentTime)}))
	case page.MediaRateChange:
		if st.PlaybackRate != s.lastRate {
			t.emit(t.cfg.rateChange, data(map[string]any{"from": s.lastRate, "to": st.PlaybackRate}))
		}
	case page.MediaQualityChange:
		if st.Quality != s.lastQuality {
			t.emit(t.cfg.qualityChange, data(map[string]any{"from": s.lastQuality, "to": st.Quality}))
		}
	case page.MediaEnded:
		t.complete(s, data)
	case page.MediaTimeUpdate:
		t.checkpoint(s, st, data)
		if st.Duration > 0 && st.CurrentTime >= st.Duration-0.5 {
			t.complete(s, data)
		}
	}
	s.lastRate = st.PlaybackRate
	s.lastQuality = st.Quality
}

// checkpoint emits progress for the checkpoint the playhead is in, once.
func (t *mediaTracker) checkpoint(s *mediaSession, st page.MediaState, data func(map[string]any) map[string]any) {
	n := int(st.CurrentTime / t.cfg.checkpointEvery)
	if n < 1 {
		return
	}
	if _, done := s.checkpoints[n]; done {
		return
	}
	s.checkpoints[n] = struct{}{}
	extra := map[string]any{"checkpoint": float64(n) * t.cfg.checkpointEvery}
	if st.Duration > 0 {
		extra["percent"] = round1(st.CurrentTime / st.Duration * 100)
	}
	t.emit(t.cfg.progress, data(extra))
}

func (t *mediaTracker) complete(s *mediaSession, data func(map[string]any) map[string]any) {
	if s.completed {
		return
	}
	s.completed = true
	t.emit(t.cfg.complete, data(nil))
}

func (t *mediaTracker) emit(typ string, data map[string]any) {
	if typ == "" {
		return
	}
	t.env.Emit(typ, t.cfg.category, data)
}
