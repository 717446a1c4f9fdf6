package sseauth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

var issuedAt = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestSigner_IssueVerify(t *testing.T) {
	s := NewSigner([]byte("stream-secret"), 0)
	if s.TTL() != DefaultTTL {
		t.Fatalf("TTL = %v, want %v", s.TTL(), DefaultTTL)
	}

	token, err := s.Issue(ScopeStats, issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(token, Version+".") || strings.Count(token, ".") != 2 {
		t.Fatalf("token %q has the wrong shape", token)
	}

	c, err := s.Verify(token, ScopeStats, issuedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Scope != ScopeStats || c.IssuedAt != issuedAt.Unix() || c.ExpiresAt != issuedAt.Add(DefaultTTL).Unix() {
		t.Errorf("claims = %+v", c)
	}
	if c.Nonce == "" {
		t.Error("nonce should be set")
	}

	other, _ := s.Issue(ScopeStats, issuedAt)
	if other == token {
		t.Error("two tokens issued in the same second should differ")
	}
}

func TestSigner_VerifyErrors(t *testing.T) {
	s := NewSigner([]byte("stream-secret"), time.Minute)
	good, err := s.Issue(ScopeStats, issuedAt)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(good, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"scp":"stats","iat":0,"exp":9999999999}`))

	tests := []struct {
		name  string
		token string
		scope Scope
		now   time.Time
		want  error
	}{
		{"expired", good, ScopeStats, issuedAt.Add(2 * time.Minute), ErrExpired},
		{"future", good, ScopeStats, issuedAt.Add(-time.Hour), ErrNotYetValid},
		{"wrong scope", good, Scope("admin"), issuedAt, ErrWrongScope},
		{"forged claims", parts[0] + "." + forged + "." + parts[2], ScopeStats, issuedAt, ErrInvalidSignature},
		{"other secret", mustIssue(t, NewSigner([]byte("other"), 0)), ScopeStats, issuedAt, ErrInvalidSignature},
		{"old version", "sse1." + parts[1] + "." + parts[2], ScopeStats, issuedAt, ErrMalformed},
		{"two parts", parts[0] + "." + parts[1], ScopeStats, issuedAt, ErrMalformed},
		{"four parts", good + ".x", ScopeStats, issuedAt, ErrMalformed},
		{"bad mac encoding", parts[0] + "." + parts[1] + ".!!!", ScopeStats, issuedAt, ErrMalformed},
		{"empty", "", ScopeStats, issuedAt, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token, tt.scope, tt.now); !errors.Is(err, tt.want) {
				t.Errorf("Verify err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSigner_EmptySecret(t *testing.T) {
	s := NewSigner(nil, 0)
	if _, err := s.Issue(ScopeStats, issuedAt); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue err = %v, want ErrNoSecret", err)
	}
	if _, err := s.Verify("att1.a.b", ScopeStats, issuedAt); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Verify err = %v, want ErrNoSecret", err)
	}
}

func TestNewSigner_CopiesSecret(t *testing.T) {
	secret := []byte("stream-secret")
	s := NewSigner(secret, 0)
	token := mustIssue(t, s)
	secret[0] = 'X'
	if _, err := s.Verify(token, ScopeStats, issuedAt); err != nil {
		t.Errorf("Verify after caller mutated secret: %v", err)
	}
}

func mustIssue(t *testing.T, s *Signer) string {
	t.Helper()
	token, err := s.Issue(ScopeStats, issuedAt)
	if err != nil {
		t.Fatal(err)
	}
	return token
}
