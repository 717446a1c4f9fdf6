//go:build integration

// Package integration provides end-to-end tests for the collector API.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/api"
	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/appinfo"
	"github.com/graaaaa/attention-collector/internal/earnings"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/storage/sqlite"
)

// TestApp holds all dependencies for integration tests.
type TestApp struct {
	Server   *httptest.Server
	Log      *storage.EventLog
	Hub      *api.Hub
	Gate     *gate.Gate
	Sessions *app.SessionManager

	cfg     *testAppConfig
	cleanup func()
}

// NewTestApp creates a new test application with all dependencies wired up
// over a temporary SQLite database. Call Close when done.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{
		username:  "admin",
		password:  "password",
		sseSecret: []byte("test-secret-key-32-bytes-long!!"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	eventLog := storage.NewEventLog(st, appinfo.EventLogKey)

	engine, err := earnings.NewEngine(earnings.DefaultPricing())
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	g := gate.New()
	bus := messaging.NewBus()
	hub := api.NewHub()
	go hub.Run()
	stopRelay := hub.Relay(bus)

	msgs := &app.MessageService{Gate: g, Bus: bus, Version: "test"}
	sessions := app.NewSessionManager(adapter.DefaultRegistry(), eventLog,
		app.WithGate(g),
		app.WithFlushHook(msgs.OnFlush),
	)
	earningsSvc := &app.EarningsService{Engine: engine, Log: sessions.Log(), Gate: g}
	stats := &app.StatsService{Earnings: earningsSvc, Sessions: sessions, Gate: g}
	msgs.Stats = stats
	msgs.Sessions = sessions
	if err := msgs.Register(bus); err != nil {
		t.Fatalf("failed to register handlers: %v", err)
	}

	serverOpts := []api.ServerOption{
		api.WithEventsUsecase(&app.EventsService{Log: sessions.Log()}),
		api.WithEarningsUsecase(earningsSvc),
		api.WithStats(stats),
		api.WithSessions(sessions),
		api.WithBus(bus),
		api.WithHub(hub),
		api.WithSSESecret(cfg.sseSecret),
	}
	if cfg.authEnabled {
		serverOpts = append(serverOpts, api.WithBasicAuth(cfg.username, cfg.password))
	}

	// addr is ignored for httptest
	server := api.NewServer("127.0.0.1:0", app.HealthService{Version: "test", Storage: "sqlite", Sessions: sessions}, serverOpts...)
	ts := httptest.NewServer(server.Handler())

	cleanup := func() {
		ts.Close()
		sessions.StopAll(context.Background())
		stopRelay()
		hub.Stop()
		st.Close()
	}

	return &TestApp{
		Server:   ts,
		Log:      eventLog,
		Hub:      hub,
		Gate:     g,
		Sessions: sessions,
		cfg:      cfg,
		cleanup:  cleanup,
	}
}

// Close releases all resources.
func (a *TestApp) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// URL returns the base URL of the test server.
func (a *TestApp) URL() string {
	return a.Server.URL
}

// Do sends a JSON request, with Basic Auth when the app has auth enabled,
// and decodes the JSON response into out when out is non-nil.
func (a *TestApp) Do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.URL()+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.cfg.authEnabled {
		req.SetBasicAuth(a.cfg.username, a.cfg.password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// Send posts one extension message and returns the reply.
func (a *TestApp) Send(t *testing.T, typ messaging.Type, payload any) messaging.Message {
	t.Helper()

	msg, err := messaging.New(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	var reply messaging.Message
	if code := a.Do(t, http.MethodPost, "/api/v1/messages", msg, &reply); code != http.StatusOK {
		t.Fatalf("message %s: status %d", typ, code)
	}
	return reply
}

// testAppConfig holds configuration for test app.
type testAppConfig struct {
	authEnabled bool
	username    string
	password    string
	sseSecret   []byte
}

// TestAppOption configures a test app.
type TestAppOption func(*testAppConfig)

// WithAuth enables authentication for the test app.
func WithAuth(username, password string) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.authEnabled = true
		cfg.username = username
		cfg.password = password
	}
}
