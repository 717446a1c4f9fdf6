package messaging

import (
	"time"

	"github.com/graaaaa/attention-collector/internal/earnings"
)

// AuthStatus answers GET_AUTH_STATUS, AUTH_SUCCESS, AUTH_REQUIRED and
// CONSENT_CHANGED.
type AuthStatus struct {
	Authorized bool   `json:"authorized"`
	Consent    bool   `json:"consent"`
	Address    string `json:"address,omitempty"`
}

// AuthSuccess is the AUTH_SUCCESS request: the wallet signed in.
type AuthSuccess struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// AuthRequired is the AUTH_REQUIRED request: the session ended or expired.
type AuthRequired struct {
	Reason string `json:"reason,omitempty"`
}

// ConsentChanged is the CONSENT_CHANGED request.
type ConsentChanged struct {
	Consent bool `json:"consent"`
}

// StatsUpdate is published after every flush and answers STATS_UPDATE.
type StatsUpdate struct {
	Earnings       earnings.Summary `json:"earnings"`
	Buffered       int              `json:"buffered"`
	ActiveSessions int              `json:"active_sessions"`
	Collecting     bool             `json:"collecting"`
}

// UploadResult answers UPLOAD_EVENTS.
type UploadResult struct {
	Sessions  int    `json:"sessions"`
	Flushed   int    `json:"flushed"`
	Persisted int    `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

// Pong answers PING.
type Pong struct {
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}
