package adapter

import (
	"time"

	"github.com/graaaaa/attention-collector/internal/page"
)

// watchSession accumulates wall-clock watch time and playhead extent for one
// piece of content.
type watchSession struct {
	id           string
	started      time.Time
	playingSince time.Time
	watched      time.Duration
	maxTime      float64
	duration     float64
	completed    bool
}

func (w *watchSession) observe(now time.Time, ev page.MediaEvent) {
	st := ev.State
	if st.CurrentTime > w.maxTime {
		w.maxTime = st.CurrentTime
	}
	if st.Duration > 0 {
		w.duration = st.Duration
	}
	switch ev.Kind {
	case page.MediaPlay:
		if w.playingSince.IsZero() {
			w.playingSince = now
		}
	case page.MediaPause:
		w.stop(now)
	case page.MediaEnded:
		w.stop(now)
		w.completed = true
	}
}

func (w *watchSession) stop(now time.Time) {
	if !w.playingSince.IsZero() {
		w.watched += now.Sub(w.playingSince)
		w.playingSince = time.Time{}
	}
}

// summary closes the session and describes it.
func (w *watchSession) summary(now time.Time, idKey string) map[string]any {
	w.stop(now)
	d := map[string]any{
		idKey:       w.id,
		"watch_ms":  w.watched.Milliseconds(),
		"max_time":  round1(w.maxTime),
		"duration":  round1(w.duration),
		"completed": w.completed,
	}
	if w.duration > 0 {
		d["percent"] = round1(min(w.maxTime/w.duration, 1) * 100)
	}
	return d
}
