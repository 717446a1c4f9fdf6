package page

import "sync"

// MediaEventKind names a media element lifecycle event.
type MediaEventKind string

// Media event kinds.
const (
	MediaPlay          MediaEventKind = "play"
	MediaPause         MediaEventKind = "pause"
	MediaSeeked        MediaEventKind = "seeked"
	MediaRateChange    MediaEventKind = "ratechange"
	MediaTimeUpdate    MediaEventKind = "timeupdate"
	MediaEnded         MediaEventKind = "ended"
	MediaQualityChange MediaEventKind = "qualitychange"
)

// MediaState is a snapshot of a media element.
type MediaState struct {
	CurrentTime  float64 `json:"current_time"`
	Duration     float64 `json:"duration"`
	Paused       bool    `json:"paused"`
	PlaybackRate float64 `json:"playback_rate"`
	Quality      string  `json:"quality,omitempty"`
	Src          string  `json:"src,omitempty"`
}

// MediaEvent is delivered to media listeners.
type MediaEvent struct {
	Kind  MediaEventKind
	State MediaState
}

// Media holds the playback state of an audio/video element and its listeners.
// It is safe for concurrent use.
type Media struct {
	mu        sync.Mutex
	state     MediaState
	nextID    int
	listeners []mediaListener
}

type mediaListener struct {
	id int
	fn func(MediaEvent)
}

// NewMedia returns media state with the given initial snapshot.
func NewMedia(state MediaState) *Media {
	if state.PlaybackRate == 0 {
		state.PlaybackRate = 1
	}
	return &Media{state: state}
}

// State returns the current snapshot.
func (m *Media) State() MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Listen registers fn for every media event. Returns an unsubscribe func.
func (m *Media) Listen(fn func(MediaEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, mediaListener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (m *Media) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Dispatch stores the new state and notifies listeners in registration order.
func (m *Media) Dispatch(kind MediaEventKind, state MediaState) {
	if state.PlaybackRate == 0 {
		state.PlaybackRate = 1
	}
	m.mu.Lock()
	m.state = state
	ls := append([]mediaListener(nil), m.listeners...)
	m.mu.Unlock()

	ev := MediaEvent{Kind: kind, State: state}
	for _, l := range ls {
		l.fn(ev)
	}
}
