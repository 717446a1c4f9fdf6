package app

import (
	"context"
	"fmt"

	"github.com/graaaaa/attention-collector/internal/earnings"
	"github.com/graaaaa/attention-collector/internal/messaging"
	"github.com/graaaaa/attention-collector/internal/storage"
)

// Permission reports whether capture and valuation are currently allowed.
type Permission interface {
	Allowed() bool
}

// EarningsUsecase defines the reward query use case.
type EarningsUsecase interface {
	Summary(ctx context.Context) (earnings.Summary, error)
}

// EarningsService values the persisted log. The live buffers are never read.
type EarningsService struct {
	Engine *earnings.Engine
	Log    *storage.EventLog
	Gate   Permission
}

// Summary returns total and today's earnings. Without authorization and
// consent, or without storage, the zero summary is returned.
func (s *EarningsService) Summary(ctx context.Context) (earnings.Summary, error) {
	if s.Log == nil || (s.Gate != nil && !s.Gate.Allowed()) {
		return s.Engine.ZeroSummary(), nil
	}
	events, err := s.Log.Load(ctx)
	if err != nil {
		return earnings.Summary{}, fmt.Errorf("load events: %w", err)
	}
	return s.Engine.Summary(events), nil
}

// StatsService assembles the STATS_UPDATE payload.
type StatsService struct {
	Earnings EarningsUsecase
	Sessions *SessionManager
	Gate     Permission
}

// Snapshot returns the current stats.
func (s *StatsService) Snapshot(ctx context.Context) (messaging.StatsUpdate, error) {
	summary, err := s.Earnings.Summary(ctx)
	if err != nil {
		return messaging.StatsUpdate{}, err
	}
	update := messaging.StatsUpdate{
		Earnings:   summary,
		Collecting: s.Gate == nil || s.Gate.Allowed(),
	}
	if s.Sessions != nil {
		update.Buffered = s.Sessions.Buffered()
		update.ActiveSessions = s.Sessions.Count()
	}
	return update, nil
}
