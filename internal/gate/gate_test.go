package gate

import (
	"testing"

	"github.com/graaaaa/attention-collector/internal/config"
)

func TestAllowedNeedsBothSignals(t *testing.T) {
	g := New()
	if g.Allowed() {
		t.Fatal("new gate is open")
	}
	g.Authorize("0xabc", "tok")
	if g.Allowed() {
		t.Fatal("open without consent")
	}
	g.SetConsent(true)
	if !g.Allowed() {
		t.Fatal("closed with both signals")
	}
	g.Revoke()
	if g.Allowed() {
		t.Fatal("open after revoke")
	}
	if g.Address() != "" || !g.UploadToken().IsEmpty() {
		t.Errorf("revoke left credentials: %q", g.Address())
	}
}

func TestSubscribeOnlyOnChange(t *testing.T) {
	g := New()
	var got []Status
	unsub := g.Subscribe(func(s Status) { got = append(got, s) })

	g.SetConsent(true)
	g.SetConsent(true)
	g.Authorize("0xabc", config.Secret("tok"))

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	if !got[1].Allowed() || got[1].Address != "0xabc" {
		t.Errorf("last status = %+v", got[1])
	}

	unsub()
	g.SetConsent(false)
	if len(got) != 2 {
		t.Errorf("notified after unsubscribe")
	}
}

func TestSubscriberMayReadGate(t *testing.T) {
	g := New()
	var seen bool
	g.Subscribe(func(Status) { seen = g.Allowed() })
	g.Authorize("0xabc", "tok")
	g.SetConsent(true)
	if !seen {
		t.Error("subscriber did not observe the new status")
	}
}

func TestTokenIsRedacted(t *testing.T) {
	g := New()
	g.Authorize("0xabc", "super-secret")
	if s := g.UploadToken().String(); s != "[REDACTED]" {
		t.Errorf("String() = %q", s)
	}
	if g.UploadToken().Value() != "super-secret" {
		t.Error("Value() lost the token")
	}
}
