package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/timer"
)

var (
	// ErrSessionNotFound is returned for an unknown or already closed session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidURL is returned when a page URL is missing or not absolute.
	ErrInvalidURL = errors.New("invalid page url")
)

// OpenRequest describes the page a browser tab reports when it loads.
type OpenRequest struct {
	URL            string `json:"url"`
	Title          string `json:"title,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
}

// SessionInfo is the externally visible state of one page session.
type SessionInfo struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Variant          string    `json:"adapter"`
	State            string    `json:"state"`
	CollectorSession string    `json:"collector_session,omitempty"`
	Buffered         int       `json:"buffered"`
	OpenedAt         time.Time `json:"opened_at"`
	Closed           bool      `json:"closed"`
}

type session struct {
	id        string
	page      *page.Virtual
	collector *collector.Collector
	openedAt  time.Time

	// signals from one tab are applied in order
	mu sync.Mutex
}

// SessionManager owns one virtual page and collector per open browser tab.
type SessionManager struct {
	registry *adapter.Registry
	log      *storage.EventLog
	gate     collector.Gate
	logger   *slog.Logger
	clock    timer.Clock
	options  []collector.Option
	onFlush  func(collector.FlushResult)

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithManagerLogger sets the logger for the manager and its collectors.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *SessionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerClock sets the clock used for session timestamps.
func WithManagerClock(c timer.Clock) ManagerOption {
	return func(m *SessionManager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithGate sets the authorization and consent source for every collector.
func WithGate(g collector.Gate) ManagerOption {
	return func(m *SessionManager) { m.gate = g }
}

// WithCollectorOptions appends options applied to every collector.
func WithCollectorOptions(opts ...collector.Option) ManagerOption {
	return func(m *SessionManager) { m.options = append(m.options, opts...) }
}

// WithFlushHook registers fn to run after every collector flush.
func WithFlushHook(fn func(collector.FlushResult)) ManagerOption {
	return func(m *SessionManager) { m.onFlush = fn }
}

// NewSessionManager creates a manager whose collectors all persist into log.
// Readers of the same key (earnings, events) should use Log so appends and
// reads go through one lock.
func NewSessionManager(registry *adapter.Registry, log *storage.EventLog, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		registry: registry,
		log:      log,
		logger:   slog.Default(),
		clock:    timer.DefaultClock,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log returns the event log shared by every collector.
func (m *SessionManager) Log() *storage.EventLog { return m.log }

// Open creates a page session and starts its collector.
func (m *SessionManager) Open(ctx context.Context, req OpenRequest) (SessionInfo, error) {
	if u, err := url.Parse(strings.TrimSpace(req.URL)); err != nil || u.Scheme == "" || u.Host == "" {
		return SessionInfo{}, fmt.Errorf("open session %q: %w", req.URL, ErrInvalidURL)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SessionInfo{}, collector.ErrStopped
	}
	m.mu.Unlock()

	var vopts []page.VirtualOption
	if req.Title != "" {
		vopts = append(vopts, page.WithTitle(req.Title))
	}
	if req.UserAgent != "" {
		vopts = append(vopts, page.WithUserAgent(req.UserAgent))
	}
	if req.ViewportWidth > 0 && req.ViewportHeight > 0 {
		vopts = append(vopts, page.WithViewport(req.ViewportWidth, req.ViewportHeight))
	}
	p := page.NewVirtual(req.URL, vopts...)

	id := uuid.NewString()
	opts := slices.Clone(m.options)
	opts = append(opts,
		collector.WithLogger(m.logger.With("session", id)),
		collector.WithGate(m.gate),
		collector.WithEventLog(m.log),
	)
	if m.onFlush != nil {
		opts = append(opts, collector.WithOnFlush(m.onFlush))
	}
	c, err := collector.New(p, m.registry, nil, opts...)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("open session: %w", err)
	}

	s := &session{id: id, page: p, collector: c, openedAt: m.clock.Now()}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		m.remove(id)
		return SessionInfo{}, fmt.Errorf("start collector: %w", err)
	}
	m.logger.Info("session opened", "session", id, "adapter", string(c.Variant()), "url", req.URL)
	return s.info(), nil
}

// Apply replays signals against the session page in order. An unload signal
// stops the collector and closes the session; later signals are ignored.
func (m *SessionManager) Apply(ctx context.Context, id string, signals []page.Signal) (SessionInfo, error) {
	s, ok := m.lookup(id)
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}

	s.mu.Lock()
	var applyErr error
	unloaded := false
	for i, sig := range signals {
		if err := ctx.Err(); err != nil {
			applyErr = err
			break
		}
		if err := s.page.Apply(sig); err != nil {
			applyErr = fmt.Errorf("signal %d (%s): %w", i, sig.Kind, err)
			break
		}
		if strings.EqualFold(sig.Kind, page.SignalUnload) {
			unloaded = true
			break
		}
	}
	s.mu.Unlock()

	if unloaded {
		m.remove(id)
		m.logger.Info("session unloaded", "session", id)
	}
	return s.info(), applyErr
}

// Close stops the session's collector, flushing what it buffered.
func (m *SessionManager) Close(ctx context.Context, id string) (SessionInfo, error) {
	s, ok := m.remove(id)
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	err := s.collector.Stop(ctx)
	m.logger.Info("session closed", "session", id)
	return s.info(), err
}

// Get returns the session with id.
func (m *SessionManager) Get(id string) (SessionInfo, bool) {
	s, ok := m.lookup(id)
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// List returns open sessions ordered by open time.
func (m *SessionManager) List() []SessionInfo {
	infos := make([]SessionInfo, 0)
	for _, s := range m.snapshot() {
		infos = append(infos, s.info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Buffered returns the events waiting for a flush across all sessions.
func (m *SessionManager) Buffered() int {
	n := 0
	for _, s := range m.snapshot() {
		n += s.collector.Buffered()
	}
	return n
}

// FlushAll flushes every open session. It returns the number of sessions and
// events drained.
func (m *SessionManager) FlushAll(ctx context.Context) (sessions, drained int, err error) {
	var errs []error
	for _, s := range m.snapshot() {
		n := s.collector.Buffered()
		if ferr := s.collector.Flush(ctx); ferr != nil {
			if !errors.Is(ferr, collector.ErrStopped) {
				errs = append(errs, fmt.Errorf("session %s: %w", s.id, ferr))
			}
			continue
		}
		sessions++
		drained += n
	}
	return sessions, drained, errors.Join(errs...)
}

// StopAll stops every session and refuses new ones.
func (m *SessionManager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.collector.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *SessionManager) lookup(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *SessionManager) remove(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	return s, ok
}

func (m *SessionManager) snapshot() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (s *session) info() SessionInfo {
	state := s.collector.State()
	return SessionInfo{
		ID:               s.id,
		URL:              s.page.URL(),
		Variant:          string(s.collector.Variant()),
		State:            state.String(),
		CollectorSession: s.collector.SessionID(),
		Buffered:         s.collector.Buffered(),
		OpenedAt:         s.openedAt,
		Closed:           state == collector.Stopped,
	}
}
