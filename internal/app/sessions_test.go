package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
)

func TestSessionManager_OpenBlockedUntilGateOpens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.sessions.Open(ctx, OpenRequest{URL: "https://www.youtube.com/watch?v=abc", Title: "Video"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.Variant != "youtube" {
		t.Errorf("Variant = %q, want youtube", info.Variant)
	}
	if info.State != "blocked" {
		t.Errorf("State = %q, want blocked", info.State)
	}

	e.allow()

	got, ok := e.sessions.Get(info.ID)
	if !ok {
		t.Fatal("session not found after open")
	}
	if got.State != "active" {
		t.Errorf("State = %q, want active", got.State)
	}
	if got.CollectorSession == "" {
		t.Error("CollectorSession should be set once active")
	}
}

func TestSessionManager_ClosePersistsSession(t *testing.T) {
	e := newEnv(t)
	e.allow()
	ctx := context.Background()

	info, err := e.sessions.Open(ctx, OpenRequest{URL: "https://blog.example.com/a"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.sessions.Close(ctx, info.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{event.TypeSessionStart, event.TypePageView, event.TypePageExit, event.TypeSessionEnd}
	if got := e.persisted(); !equalStrings(got, want) {
		t.Errorf("persisted = %v, want %v", got, want)
	}
	if e.sessions.Count() != 0 {
		t.Errorf("Count = %d, want 0", e.sessions.Count())
	}
	if _, err := e.sessions.Close(ctx, info.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Close err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionManager_ApplySignals(t *testing.T) {
	e := newEnv(t)
	e.allow()
	ctx := context.Background()

	info, err := e.sessions.Open(ctx, OpenRequest{URL: "https://blog.example.com/a"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	signals := []page.Signal{
		{Kind: page.SignalDOM, Parent: "body", Node: &page.NodeSpec{Key: "btn", Tag: "button", Text: "Read more"}},
		{Kind: page.SignalClick, Key: "btn"},
		{Kind: page.SignalNavigate, URL: "https://blog.example.com/b", Title: "B"},
	}
	got, err := e.sessions.Apply(ctx, info.ID, signals)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.URL != "https://blog.example.com/b" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.Buffered == 0 {
		t.Error("expected buffered events after signals")
	}

	if _, err := e.sessions.Apply(ctx, info.ID, []page.Signal{{Kind: page.SignalUnload}}); err != nil {
		t.Fatalf("Apply unload: %v", err)
	}
	if _, ok := e.sessions.Get(info.ID); ok {
		t.Error("session should be removed after unload")
	}

	persisted := e.persisted()
	for _, typ := range []string{event.TypeClick, event.TypeNavigation, event.TypeSessionEnd} {
		if !slices.Contains(persisted, typ) {
			t.Errorf("persisted %v missing %s", persisted, typ)
		}
	}
}

func TestSessionManager_ApplyErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.sessions.Apply(ctx, "missing", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	info, _ := e.sessions.Open(ctx, OpenRequest{URL: "https://blog.example.com/a"})
	_, err := e.sessions.Apply(ctx, info.ID, []page.Signal{{Kind: page.SignalClick, Key: "nope"}})
	if !errors.Is(err, page.ErrUnknownNode) {
		t.Errorf("err = %v, want ErrUnknownNode", err)
	}
}

func TestSessionManager_OpenRequiresURL(t *testing.T) {
	e := newEnv(t)
	for _, u := range []string{"", "   ", "/relative/path", "not a url"} {
		if _, err := e.sessions.Open(context.Background(), OpenRequest{URL: u}); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Open(%q) error = %v, want ErrInvalidURL", u, err)
		}
	}
	if e.sessions.Count() != 0 {
		t.Errorf("Count() = %d, want 0", e.sessions.Count())
	}
}

func TestSessionManager_FlushAll(t *testing.T) {
	e := newEnv(t)
	e.allow()
	ctx := context.Background()

	for _, u := range []string{"https://a.example.com/", "https://b.example.com/"} {
		if _, err := e.sessions.Open(ctx, OpenRequest{URL: u}); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if e.sessions.Buffered() != 4 {
		t.Fatalf("Buffered = %d, want 4", e.sessions.Buffered())
	}

	sessions, drained, err := e.sessions.FlushAll(ctx)
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if sessions != 2 || drained != 4 {
		t.Errorf("FlushAll = (%d, %d), want (2, 4)", sessions, drained)
	}
	if n := len(e.persisted()); n != 4 {
		t.Errorf("persisted %d events, want 4", n)
	}
}

func TestSessionManager_StopAll(t *testing.T) {
	e := newEnv(t)
	e.allow()
	ctx := context.Background()

	if _, err := e.sessions.Open(ctx, OpenRequest{URL: "https://a.example.com/"}); err != nil {
		t.Fatal(err)
	}
	if err := e.sessions.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if e.sessions.Count() != 0 {
		t.Errorf("Count = %d after StopAll", e.sessions.Count())
	}
	if got := e.persisted(); got[len(got)-1] != event.TypeSessionEnd {
		t.Errorf("last persisted = %s, want session_end", got[len(got)-1])
	}
	if _, err := e.sessions.Open(ctx, OpenRequest{URL: "https://a.example.com/"}); !errors.Is(err, collector.ErrStopped) {
		t.Errorf("Open after StopAll err = %v, want ErrStopped", err)
	}
}

func TestSessionManager_List(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, _ := e.sessions.Open(ctx, OpenRequest{URL: "https://a.example.com/"})
	e.clk.Advance(1)
	second, _ := e.sessions.Open(ctx, OpenRequest{URL: "https://b.example.com/"})

	list := e.sessions.List()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("List = %+v", list)
	}
}
