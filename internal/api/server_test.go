package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/graaaaa/attention-collector/internal/api/sseauth"
	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/earnings"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/metrics"
	"github.com/graaaaa/attention-collector/internal/page"
)

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	health := app.HealthService{Version: "test-version", Storage: "memory"}
	server := NewServer(":8080", health)

	rec := serve(server, http.MethodGet, "/api/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var resp app.HealthResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Version != "test-version" {
		t.Errorf("expected version 'test-version', got '%s'", resp.Version)
	}
	if resp.Storage != "memory" {
		t.Errorf("expected storage 'memory', got '%s'", resp.Storage)
	}
}

func TestHealthEndpointMethodNotAllowed(t *testing.T) {
	server := NewServer(":8080", app.HealthService{Version: "test-version"})

	rec := serve(server, http.MethodPost, "/api/v1/health", "")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestOptionalRoutesAbsentWithoutDependencies(t *testing.T) {
	server := NewServer(":8080", app.HealthService{})

	for _, target := range []string{"/api/v1/events", "/api/v1/earnings", "/api/v1/sessions", "/api/v1/stream", "/metrics"} {
		if rec := serve(server, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, rec.Code)
		}
	}
}

// fakeSessions implements SessionUsecase for testing.
type fakeSessions struct {
	items   map[string]app.SessionInfo
	applied []page.Signal
	openErr error
	applyFn func(id string, signals []page.Signal) error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{items: make(map[string]app.SessionInfo)}
}

func (f *fakeSessions) Open(ctx context.Context, req app.OpenRequest) (app.SessionInfo, error) {
	if f.openErr != nil {
		return app.SessionInfo{}, f.openErr
	}
	info := app.SessionInfo{ID: fmt.Sprintf("s%d", len(f.items)+1), URL: req.URL, Variant: "default", State: "active"}
	f.items[info.ID] = info
	return info, nil
}

func (f *fakeSessions) Apply(ctx context.Context, id string, signals []page.Signal) (app.SessionInfo, error) {
	info, ok := f.items[id]
	if !ok {
		return app.SessionInfo{}, app.ErrSessionNotFound
	}
	if f.applyFn != nil {
		if err := f.applyFn(id, signals); err != nil {
			return info, err
		}
	}
	f.applied = append(f.applied, signals...)
	info.Buffered += len(signals)
	f.items[id] = info
	return info, nil
}

func (f *fakeSessions) Close(ctx context.Context, id string) (app.SessionInfo, error) {
	info, ok := f.items[id]
	if !ok {
		return app.SessionInfo{}, app.ErrSessionNotFound
	}
	delete(f.items, id)
	info.Closed = true
	return info, nil
}

func (f *fakeSessions) Get(id string) (app.SessionInfo, bool) {
	info, ok := f.items[id]
	return info, ok
}

func (f *fakeSessions) List() []app.SessionInfo {
	var out []app.SessionInfo
	for _, info := range f.items {
		out = append(out, info)
	}
	return out
}

func TestSessionsLifecycle(t *testing.T) {
	sessions := newFakeSessions()
	server := NewServer(":8080", app.HealthService{}, WithSessions(sessions))

	rec := serve(server, http.MethodPost, "/api/v1/sessions", `{"url":"https://example.com/a","title":"A"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open = %d: %s", rec.Code, rec.Body.String())
	}
	var opened app.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatal(err)
	}
	if opened.ID != "s1" || opened.URL != "https://example.com/a" {
		t.Errorf("opened = %+v", opened)
	}

	body := `{"signals":[{"kind":"scroll","y":400,"document_height":2000},{"kind":"click","key":"btn"}]}`
	rec = serve(server, http.MethodPost, "/api/v1/sessions/s1/signals", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("signals = %d: %s", rec.Code, rec.Body.String())
	}
	if len(sessions.applied) != 2 || sessions.applied[0].Kind != page.SignalScroll || sessions.applied[0].Y != 400 {
		t.Errorf("applied = %+v", sessions.applied)
	}

	rec = serve(server, http.MethodGet, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = serve(server, http.MethodGet, "/api/v1/sessions", "")
	var list sessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 {
		t.Errorf("list = %+v", list.Items)
	}

	rec = serve(server, http.MethodDelete, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("close = %d", rec.Code)
	}
	rec = serve(server, http.MethodGet, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after close = %d, want 404", rec.Code)
	}
	rec = serve(server, http.MethodDelete, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second close = %d, want 404", rec.Code)
	}
}

func TestSessionsEmptyListIsArray(t *testing.T) {
	server := NewServer(":8080", app.HealthService{}, WithSessions(newFakeSessions()))
	rec := serve(server, http.MethodGet, "/api/v1/sessions", "")
	if got := rec.Body.String(); got != "{\"items\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestSessionsErrors(t *testing.T) {
	sessions := newFakeSessions()
	server := NewServer(":8080", app.HealthService{}, WithSessions(sessions))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		setup  func()
		want   int
	}{
		{"unknown field", http.MethodPost, "/api/v1/sessions", `{"url":"https://x.test","bogus":1}`, nil, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/v1/sessions", "", nil, http.StatusBadRequest},
		{"invalid url", http.MethodPost, "/api/v1/sessions", `{"url":"nope"}`, func() { sessions.openErr = app.ErrInvalidURL }, http.StatusBadRequest},
		{"missing session", http.MethodPost, "/api/v1/sessions/zzz/signals", `{"signals":[]}`, nil, http.StatusNotFound},
		{"unknown node", http.MethodPost, "/api/v1/sessions/s1/signals", `{"signals":[{"kind":"click","key":"x"}]}`, func() {
			sessions.items["s1"] = app.SessionInfo{ID: "s1"}
			sessions.applyFn = func(string, []page.Signal) error { return fmt.Errorf("signal 0: %w", page.ErrUnknownNode) }
		}, http.StatusUnprocessableEntity},
		{"internal", http.MethodPost, "/api/v1/sessions/s1/signals", `{"signals":[]}`, func() {
			sessions.applyFn = func(string, []page.Signal) error { return errors.New("boom") }
		}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := serve(server, tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMessagesEndpoint(t *testing.T) {
	bus := messaging.NewBus()
	bus.Handle(messaging.TypePing, func(ctx context.Context, m messaging.Message) (messaging.Message, error) {
		return messaging.New(m.Type, messaging.Pong{Version: "v1"})
	})
	bus.Handle(messaging.TypeAuthSuccess, func(ctx context.Context, m messaging.Message) (messaging.Message, error) {
		return messaging.Message{}, errors.New("address and token are required")
	})
	server := NewServer(":8080", app.HealthService{}, WithBus(bus))

	rec := serve(server, http.MethodPost, "/api/v1/messages", `{"type":"PING"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ping = %d: %s", rec.Code, rec.Body.String())
	}
	var reply messaging.Message
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	var pong messaging.Pong
	if err := reply.Decode(&pong); err != nil {
		t.Fatal(err)
	}
	if reply.Type != messaging.TypePing || pong.Version != "v1" {
		t.Errorf("reply = %+v, pong = %+v", reply, pong)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"type":"NOPE"}`, http.StatusBadRequest},
		{`{"type":"UPLOAD_EVENTS"}`, http.StatusNotImplemented},
		{`{"type":"AUTH_SUCCESS","payload":{}}`, http.StatusUnprocessableEntity},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := serve(server, http.MethodPost, "/api/v1/messages", tt.body); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
}

func TestMessagesRateLimited(t *testing.T) {
	bus := messaging.NewBus()
	bus.Handle(messaging.TypePing, func(ctx context.Context, m messaging.Message) (messaging.Message, error) {
		return messaging.Message{Type: m.Type}, nil
	})
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	server := NewServer(":8080", app.HealthService{}, WithBus(bus), WithRateLimiter(rl))

	if rec := serve(server, http.MethodPost, "/api/v1/messages", `{"type":"PING"}`); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	if rec := serve(server, http.MethodPost, "/api/v1/messages", `{"type":"PING"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", rec.Code)
	}
}

type fakeEarnings struct {
	summary earnings.Summary
	err     error
}

func (f fakeEarnings) Summary(ctx context.Context) (earnings.Summary, error) {
	return f.summary, f.err
}

type fakeStats struct {
	update messaging.StatsUpdate
	err    error
}

func (f fakeStats) Snapshot(ctx context.Context) (messaging.StatsUpdate, error) {
	return f.update, f.err
}

func TestEarningsAndStatsEndpoints(t *testing.T) {
	summary := earnings.Summary{Total: earnings.Amount{Amount: 0.25, Formatted: "$0.2500"}}
	server := NewServer(":8080", app.HealthService{},
		WithEarningsUsecase(fakeEarnings{summary: summary}),
		WithStats(fakeStats{update: messaging.StatsUpdate{Earnings: summary, Buffered: 3, Collecting: true}}),
	)

	rec := serve(server, http.MethodGet, "/api/v1/earnings", "")
	var got earnings.Summary
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Total.Formatted != "$0.2500" {
		t.Errorf("earnings = %+v", got)
	}

	rec = serve(server, http.MethodGet, "/api/v1/stats", "")
	var update messaging.StatsUpdate
	if err := json.NewDecoder(rec.Body).Decode(&update); err != nil {
		t.Fatal(err)
	}
	if update.Buffered != 3 || !update.Collecting {
		t.Errorf("stats = %+v", update)
	}

	failing := NewServer(":8080", app.HealthService{}, WithEarningsUsecase(fakeEarnings{err: errors.New("disk")}))
	if rec := serve(failing, http.MethodGet, "/api/v1/earnings", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing earnings = %d, want 500", rec.Code)
	}
}

type fakeConfig struct {
	got app.ConfigUpdateRequest
}

func (f *fakeConfig) GetConfig(ctx context.Context) app.ConfigResponse {
	return app.ConfigResponse{Port: 8787, StorageDriver: "sqlite"}
}

func (f *fakeConfig) UpdateConfig(ctx context.Context, req app.ConfigUpdateRequest) (app.ConfigUpdateResponse, error) {
	f.got = req
	if req.Port != nil && *req.Port < 1024 {
		return app.ConfigUpdateResponse{}, errors.New("port must be between 1024 and 65535")
	}
	return app.ConfigUpdateResponse{Success: true, RestartRequired: true}, nil
}

func TestConfigEndpoints(t *testing.T) {
	cfg := &fakeConfig{}
	server := NewServer(":8080", app.HealthService{}, WithConfigUsecase(cfg))

	rec := serve(server, http.MethodGet, "/api/v1/config", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"storage_driver":"sqlite"`) {
		t.Errorf("get config = %d %s", rec.Code, rec.Body.String())
	}

	// PUT without Origin fails the CSRF check.
	rec = serve(server, http.MethodPut, "/api/v1/config", `{"storage_driver":"redis"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("put without origin = %d, want 403", rec.Code)
	}

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
		req.Header.Set("Origin", "http://127.0.0.1:8787")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec
	}
	if rec := put(`{"storage_driver":"redis"}`); rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}
	if cfg.got.StorageDriver == nil || *cfg.got.StorageDriver != "redis" {
		t.Errorf("update request = %+v", cfg.got)
	}
	if rec := put(`{"port":80}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid port = %d, want 400", rec.Code)
	}
	if rec := put(`{"unknown":true}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", rec.Code)
	}
}

func TestStreamSendsStatsSnapshot(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()
	stats := fakeStats{update: messaging.StatsUpdate{Buffered: 7, Collecting: true}}
	server := NewServer(":8080", app.HealthService{}, WithHub(hub), WithStats(stats))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, ": connected\n\n") {
		t.Errorf("body = %q", body)
	}
	if !strings.Contains(body, "event: STATS_UPDATE\n") || !strings.Contains(body, `"buffered":7`) {
		t.Errorf("missing stats snapshot: %q", body)
	}
	if strings.Contains(body, "id: ") {
		t.Errorf("snapshot should not carry an id: %q", body)
	}
}

func TestStreamReplaysLastNotice(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()
	hub.PublishJSON("STATS_UPDATE", map[string]int{"buffered": 1})
	hub.PublishJSON("STATS_UPDATE", map[string]int{"buffered": 2})
	for len(hub.broadcast) > 0 {
		time.Sleep(time.Millisecond)
	}
	server := NewServer(":8080", app.HealthService{}, WithHub(hub))

	stream := func(lastID string) string {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
		if lastID != "" {
			req.Header.Set("Last-Event-ID", lastID)
		}
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Body.String()
	}

	if body := stream(""); !strings.Contains(body, "id: 2\n") || !strings.Contains(body, `"buffered":2`) {
		t.Errorf("fresh client body = %q", body)
	}
	if body := stream("2"); strings.Contains(body, "event:") {
		t.Errorf("caught-up client should get nothing: %q", body)
	}
}

func TestStreamAuth(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()
	secret := []byte("0123456789abcdef0123456789abcdef")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	server := NewServer(":8080", app.HealthService{},
		WithHub(hub),
		WithBasicAuth("admin", "pw"),
		WithSSESecret(secret),
		WithClock(func() time.Time { return now }),
	)

	if rec := serve(server, http.MethodGet, "/api/v1/stream", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous stream = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token = %d", rec.Code)
	}
	var tok tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}
	if tok.ExpiresIn != int(sseauth.DefaultTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d", tok.ExpiresIn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stream?token="+tok.Token, nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("stream with token = %d, want 200", rec.Code)
	}
}

func TestBasicAuthProtectsAPIButNotHealth(t *testing.T) {
	server := NewServer(":8080", app.HealthService{},
		WithBasicAuth("admin", "pw"),
		WithSessions(newFakeSessions()),
	)

	if rec := serve(server, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", rec.Code)
	}
	if rec := serve(server, http.MethodGet, "/api/v1/sessions", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("sessions = %d, want 401", rec.Code)
	}
	if rec := serve(server, http.MethodPost, "/api/v1/auth/token", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("token = %d, want 401", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	server := NewServer(":8080", app.HealthService{}, WithMetrics(m))

	serve(server, http.MethodGet, "/api/v1/health", "")
	rec := serve(server, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	want := `attention_http_requests_total{method="GET",path="/api/v1/health",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestSPAFallback(t *testing.T) {
	webFS := fstest.MapFS{
		"index.html": {Data: []byte("<html>popup</html>")},
		"app.js":     {Data: []byte("console.log(1)")},
	}
	server := NewServer(":8080", app.HealthService{}, WithWebFS(webFS))

	if rec := serve(server, http.MethodGet, "/app.js", ""); !strings.Contains(rec.Body.String(), "console.log") {
		t.Errorf("app.js body = %q", rec.Body.String())
	}
	rec := serve(server, http.MethodGet, "/settings/deep", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>popup</html>" {
		t.Errorf("fallback = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(server, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("api route shadowed by SPA: %d", rec.Code)
	}
}
