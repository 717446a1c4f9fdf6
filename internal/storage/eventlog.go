package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// EventLog is an ordered event collection stored as one JSON array under a
// single key. Appends are read-merge-write and serialized per *EventLog, so
// every writer of a key must share one value. Two EventLogs on the same key,
// in one process or several, can lose each other's appends.
type EventLog struct {
	kv  KV
	key string
	mu  sync.Mutex
}

// NewEventLog returns an event log stored under key.
func NewEventLog(kv KV, key string) *EventLog {
	return &EventLog{kv: kv, key: key}
}

// Key returns the storage key.
func (l *EventLog) Key() string { return l.key }

// Load returns every persisted event in insertion order.
func (l *EventLog) Load(ctx context.Context) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *EventLog) load(ctx context.Context) ([]event.Event, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", l.key, err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var events []event.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode %s: %w", l.key, err)
	}
	return events, nil
}

func (l *EventLog) store(ctx context.Context, events []event.Event) error {
	if events == nil {
		events = []event.Event{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.key, err)
	}
	if err := l.kv.Set(ctx, l.key, raw); err != nil {
		return fmt.Errorf("set %s: %w", l.key, err)
	}
	return nil
}

// Append merges events after the existing ones and returns the new total.
func (l *EventLog) Append(ctx context.Context, events []event.Event) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return len(existing), nil
	}
	merged := make([]event.Event, 0, len(existing)+len(events))
	merged = append(merged, existing...)
	merged = append(merged, events...)
	if err := l.store(ctx, merged); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// Replace overwrites the log with events.
func (l *EventLog) Replace(ctx context.Context, events []event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store(ctx, events)
}

// Clear removes the log.
func (l *EventLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("delete %s: %w", l.key, err)
	}
	return nil
}

// Count returns the number of persisted events.
func (l *EventLog) Count(ctx context.Context) (int, error) {
	events, err := l.Load(ctx)
	return len(events), err
}

// QueryFilter contains filter options for querying the log.
type QueryFilter struct {
	Since     *time.Time
	Until     *time.Time
	Type      string
	Category  event.Category
	SessionID string
	Limit     int
	Cursor    string
}

// QueryResult is one page of events.
type QueryResult struct {
	Items      []event.Event
	NextCursor *string
}

// Query pages through the log in insertion order.
func (l *EventLog) Query(ctx context.Context, f QueryFilter) (QueryResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	events, err := l.Load(ctx)
	if err != nil {
		return QueryResult{}, err
	}

	start := 0
	if f.Cursor != "" {
		ts, pos, err := decodeCursor(f.Cursor)
		if err != nil {
			return QueryResult{}, fmt.Errorf("decode cursor: %w", err)
		}
		if pos >= len(events) || !events[pos].Timestamp.Equal(ts) {
			return QueryResult{}, ErrStaleCursor
		}
		start = pos + 1
	}

	items := make([]event.Event, 0, limit)
	lastPos := -1
	for i := start; i < len(events); i++ {
		if !f.match(&events[i]) {
			continue
		}
		if len(items) == limit {
			c := encodeCursor(events[lastPos].Timestamp, lastPos)
			return QueryResult{Items: items, NextCursor: &c}, nil
		}
		items = append(items, events[i])
		lastPos = i
	}
	return QueryResult{Items: items}, nil
}

func (f QueryFilter) match(e *event.Event) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.Timestamp.Before(*f.Until) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	return true
}
