package app

import (
	"context"
	"fmt"

	"github.com/graaaaa/attention-collector/internal/storage"
)

// EventsUsecase defines the events query use case.
type EventsUsecase interface {
	Query(ctx context.Context, filter storage.QueryFilter) (storage.QueryResult, error)
}

// EventsService implements EventsUsecase over the persisted event log.
type EventsService struct {
	Log *storage.EventLog
}

// Query pages through persisted events with the given filter.
func (s *EventsService) Query(ctx context.Context, filter storage.QueryFilter) (storage.QueryResult, error) {
	if s.Log == nil {
		return storage.QueryResult{}, nil
	}
	res, err := s.Log.Query(ctx, filter)
	if err != nil {
		return storage.QueryResult{}, fmt.Errorf("query events: %w", err)
	}
	return res, nil
}
