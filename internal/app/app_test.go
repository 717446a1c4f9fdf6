package app

import (
	"context"
	"testing"
	"time"

	"github.com/graaaaa/attention-collector/internal/adapter"
	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/config"
	"github.com/graaaaa/attention-collector/internal/earnings"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/storage/memory"
	"github.com/graaaaa/attention-collector/internal/timer/timertest"
)

var epoch = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type env struct {
	t        *testing.T
	clk      *timertest.Fake
	kv       storage.KV
	gate     *gate.Gate
	log      *storage.EventLog
	sessions *SessionManager
	stats    *StatsService
	bus      *messaging.Bus
	messages *MessageService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:    t,
		clk:  timertest.New(epoch),
		kv:   memory.New(),
		gate: gate.New(),
	}
	e.log = storage.NewEventLog(e.kv, collector.DefaultStorageKey)

	engine, err := earnings.NewEngine(earnings.DefaultPricing(), earnings.WithClock(e.clk))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.bus = messaging.NewBus()
	e.messages = &MessageService{Gate: e.gate, Bus: e.bus, Version: "test", Clock: e.clk}
	e.sessions = NewSessionManager(adapter.DefaultRegistry(), e.log,
		WithGate(e.gate),
		WithManagerClock(e.clk),
		WithFlushHook(e.messages.OnFlush),
		WithCollectorOptions(
			collector.WithClock(e.clk),
			collector.WithAfterFunc(e.clk.AfterFunc),
			collector.WithScrollThrottle(0),
			collector.WithURLPollInterval(0),
			collector.WithSpawn(func(fn func()) { fn() }),
		),
	)
	e.stats = &StatsService{
		Earnings: &EarningsService{Engine: engine, Log: e.log, Gate: e.gate},
		Sessions: e.sessions,
		Gate:     e.gate,
	}
	e.messages.Stats = e.stats
	e.messages.Sessions = e.sessions
	if err := e.messages.Register(e.bus); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return e
}

func (e *env) allow() {
	e.gate.Authorize("0xabc", config.Secret("tok"))
	e.gate.SetConsent(true)
}

func (e *env) persisted() []string {
	e.t.Helper()
	events, err := e.log.Load(context.Background())
	if err != nil {
		e.t.Fatalf("Load: %v", err)
	}
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func (e *env) send(t messaging.Type, payload any, out any) {
	e.t.Helper()
	req, err := messaging.New(t, payload)
	if err != nil {
		e.t.Fatal(err)
	}
	resp, err := e.bus.Send(context.Background(), req)
	if err != nil {
		e.t.Fatalf("Send(%s): %v", t, err)
	}
	if resp.Type != t {
		e.t.Errorf("response type = %s, want %s", resp.Type, t)
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			e.t.Fatalf("Decode: %v", err)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
