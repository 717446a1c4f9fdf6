package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/graaaaa/attention-collector/internal/collector"
	"github.com/graaaaa/attention-collector/internal/config"
	"github.com/graaaaa/attention-collector/internal/gate"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/timer"
)

// MessageService answers the message vocabulary and publishes stats updates.
type MessageService struct {
	Gate     *gate.Gate
	Stats    *StatsService
	Sessions *SessionManager
	Bus      *messaging.Bus
	Version  string
	Clock    timer.Clock
	Logger   *slog.Logger

	// SaveAuth, when set, persists credentials accepted by AUTH_SUCCESS and
	// clears them on AUTH_REQUIRED (empty address and token).
	SaveAuth func(address string, token config.Secret) error
}

// Register installs a handler for every message type on bus.
func (s *MessageService) Register(bus *messaging.Bus) error {
	handlers := map[messaging.Type]messaging.Handler{
		messaging.TypeGetAuthStatus:  s.getAuthStatus,
		messaging.TypeAuthSuccess:    s.authSuccess,
		messaging.TypeAuthRequired:   s.authRequired,
		messaging.TypeConsentChanged: s.consentChanged,
		messaging.TypeStatsUpdate:    s.statsUpdate,
		messaging.TypeUploadEvents:   s.uploadEvents,
		messaging.TypePing:           s.ping,
	}
	for _, t := range messaging.Types() {
		if err := bus.Handle(t, handlers[t]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MessageService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *MessageService) authStatus(t messaging.Type) (messaging.Message, error) {
	st := s.Gate.Status()
	return messaging.New(t, messaging.AuthStatus{
		Authorized: st.Authorized,
		Consent:    st.Consent,
		Address:    st.Address,
	})
}

func (s *MessageService) getAuthStatus(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	return s.authStatus(m.Type)
}

func (s *MessageService) authSuccess(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	var req messaging.AuthSuccess
	if err := m.Decode(&req); err != nil {
		return messaging.Message{}, err
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" || req.Token == "" {
		return messaging.Message{}, fmt.Errorf("auth success: address and token are required")
	}
	token := config.Secret(req.Token)
	s.Gate.Authorize(req.Address, token)
	if s.SaveAuth != nil {
		if err := s.SaveAuth(req.Address, token); err != nil {
			s.logger().Warn("failed to persist credentials", "error", err)
		}
	}
	s.logger().Info("authorized", "address", req.Address)
	s.PublishStats(ctx)
	return s.authStatus(m.Type)
}

func (s *MessageService) authRequired(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	var req messaging.AuthRequired
	if err := m.Decode(&req); err != nil {
		return messaging.Message{}, err
	}
	s.Gate.Revoke()
	if s.SaveAuth != nil {
		if err := s.SaveAuth("", ""); err != nil {
			s.logger().Warn("failed to clear credentials", "error", err)
		}
	}
	s.logger().Info("authorization revoked", "reason", req.Reason)
	s.PublishStats(ctx)
	return s.authStatus(m.Type)
}

func (s *MessageService) consentChanged(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	var req messaging.ConsentChanged
	if err := m.Decode(&req); err != nil {
		return messaging.Message{}, err
	}
	s.Gate.SetConsent(req.Consent)
	s.logger().Info("consent changed", "consent", req.Consent)
	s.PublishStats(ctx)
	return s.authStatus(m.Type)
}

func (s *MessageService) statsUpdate(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	update, err := s.Stats.Snapshot(ctx)
	if err != nil {
		return messaging.Message{}, err
	}
	return messaging.New(m.Type, update)
}

func (s *MessageService) uploadEvents(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	var res messaging.UploadResult
	if s.Sessions != nil {
		sessions, drained, err := s.Sessions.FlushAll(ctx)
		res.Sessions = sessions
		res.Flushed = drained
		if err != nil {
			res.Error = err.Error()
		}
	}
	if s.Stats != nil && s.Stats.Earnings != nil {
		if summary, err := s.Stats.Earnings.Summary(ctx); err == nil {
			res.Persisted = summary.Stats.EventCount
		}
	}
	s.PublishStats(ctx)
	return messaging.New(m.Type, res)
}

func (s *MessageService) ping(ctx context.Context, m messaging.Message) (messaging.Message, error) {
	clock := s.Clock
	if clock == nil {
		clock = timer.DefaultClock
	}
	return messaging.New(m.Type, messaging.Pong{Version: s.Version, Time: clock.Now().UTC()})
}

// PublishStats broadcasts a STATS_UPDATE notification. Failures are logged.
func (s *MessageService) PublishStats(ctx context.Context) {
	if s.Bus == nil || s.Stats == nil {
		return
	}
	update, err := s.Stats.Snapshot(ctx)
	if err != nil {
		s.logger().Warn("stats snapshot failed", "error", err)
		return
	}
	msg, err := messaging.New(messaging.TypeStatsUpdate, update)
	if err != nil {
		s.logger().Warn("stats encode failed", "error", err)
		return
	}
	s.Bus.Publish(msg)
}

// OnFlush is a collector flush hook that publishes fresh stats.
func (s *MessageService) OnFlush(res collector.FlushResult) {
	if res.Err != nil {
		s.logger().Warn("flush failed", "session", res.SessionID, "error", res.Err)
	}
	s.PublishStats(context.Background())
}
