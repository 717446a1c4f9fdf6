// Package sseauth signs short-lived bearer tokens for the stats stream.
//
// EventSource cannot send an Authorization header, so a popup first trades
// its Basic Auth credentials for a token at POST /api/v1/auth/token and then
// opens GET /api/v1/stream?token=<token>.
//
// Wire format: att1.<claims>.<mac>, where claims is base64url JSON and mac is
// base64url HMAC-SHA256 over "att1.<claims>".
package sseauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version prefixes every token.
const Version = "att1"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 5 * time.Minute

// clockSkew tolerates an issuer clock slightly ahead of the verifier.
const clockSkew = 30 * time.Second

// Scope names the resource a token opens.
type Scope string

// ScopeStats opens the STATS_UPDATE stream.
const ScopeStats Scope = "stats"

// Token errors.
var (
	ErrNoSecret         = errors.New("signing secret is empty")
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrNotYetValid      = errors.New("token issued in the future")
	ErrWrongScope       = errors.New("token scope mismatch")
)

// Claims is the signed payload.
type Claims struct {
	Scope     Scope  `json:"scp"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"jti"`
}

// Signer issues and verifies tokens with one secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner returns a signer. A non-positive ttl means DefaultTTL.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: append([]byte(nil), secret...), ttl: ttl}
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue returns a token for scope valid from now for TTL.
func (s *Signer) Issue(scope Scope, now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token nonce: %w", err)
	}
	payload, err := json.Marshal(Claims{
		Scope:     scope,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
		Nonce:     hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	signed := Version + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signed + "." + base64.RawURLEncoding.EncodeToString(s.mac(signed)), nil
}

// Verify checks the signature first, then lifetime and scope.
func (s *Signer) Verify(token string, scope Scope, now time.Time) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	signed, macPart, ok := cutLast(token)
	if !ok || !strings.HasPrefix(signed, Version+".") {
		return Claims{}, ErrMalformed
	}
	mac, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !hmac.Equal(mac, s.mac(signed)) {
		return Claims{}, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(signed, Version+"."))
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return Claims{}, ErrMalformed
	}

	switch t := now.Unix(); {
	case t > c.ExpiresAt:
		return Claims{}, ErrExpired
	case time.Unix(c.IssuedAt, 0).After(now.Add(clockSkew)):
		return Claims{}, ErrNotYetValid
	}
	if c.Scope != scope {
		return Claims{}, ErrWrongScope
	}
	return c, nil
}

func (s *Signer) mac(signed string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(signed))
	return h.Sum(nil)
}

// cutLast splits token at its last dot; the signed part must itself hold
// exactly one dot.
func cutLast(token string) (signed, mac string, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 || strings.Count(token, ".") != 2 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}
