// Package messaging carries the fixed message vocabulary exchanged between
// the collector host, the session coordinator and the popup UI.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Type names a message.
type Type string

const (
	TypeGetAuthStatus  Type = "GET_AUTH_STATUS"
	TypeAuthSuccess    Type = "AUTH_SUCCESS"
	TypeAuthRequired   Type = "AUTH_REQUIRED"
	TypeConsentChanged Type = "CONSENT_CHANGED"
	TypeStatsUpdate    Type = "STATS_UPDATE"
	TypeUploadEvents   Type = "UPLOAD_EVENTS"
	TypePing           Type = "PING"
)

var knownTypes = []Type{
	TypeGetAuthStatus,
	TypeAuthSuccess,
	TypeAuthRequired,
	TypeConsentChanged,
	TypeStatsUpdate,
	TypeUploadEvents,
	TypePing,
}

var (
	// ErrUnknownMessage is returned for a type outside the vocabulary.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrNoHandler is returned when a known type has no handler registered.
	ErrNoHandler = errors.New("no handler for message type")
)

// Known reports whether t belongs to the vocabulary.
func Known(t Type) bool { return slices.Contains(knownTypes, t) }

// Types returns the vocabulary in declaration order.
func Types() []Type { return slices.Clone(knownTypes) }

// Message is one request, response or notification.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message with payload encoded as JSON. A nil payload is omitted.
func New(t Type, payload any) (Message, error) {
	m := Message{Type: t}
	if payload == nil {
		return m, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	m.Payload = data
	return m, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Handler answers a request message.
type Handler func(ctx context.Context, m Message) (Message, error)

// Bus routes requests to handlers and fans notifications out to subscribers.
// All methods tolerate a nil *Bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	subs     map[uint64]func(Message)
	nextID   uint64
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger for the Bus.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Type]Handler),
		subs:     make(map[uint64]func(Message)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle registers h for t, replacing any previous handler.
func (b *Bus) Handle(t Type, h Handler) error {
	if b == nil {
		return nil
	}
	if !Known(t) {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, t)
	}
	b.mu.Lock()
	b.handlers[t] = h
	b.mu.Unlock()
	return nil
}

// Send dispatches m to its handler. On a nil bus it returns a zero message
// and no error.
func (b *Bus) Send(ctx context.Context, m Message) (Message, error) {
	if b == nil {
		return Message{}, nil
	}
	if !Known(m.Type) {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	b.mu.RLock()
	h := b.handlers[m.Type]
	b.mu.RUnlock()
	if h == nil {
		return Message{}, fmt.Errorf("%w: %s", ErrNoHandler, m.Type)
	}
	return h(ctx, m)
}

// Publish delivers m to every subscriber synchronously, in subscription order.
func (b *Bus) Publish(m Message) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(fn, m)
	}
}

func (b *Bus) deliver(fn func(Message), m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message subscriber panicked", "type", m.Type, "panic", r)
		}
	}()
	fn(m)
}

// Subscribe registers fn for published messages and returns its cancel func.
func (b *Bus) Subscribe(fn func(Message)) func() {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
