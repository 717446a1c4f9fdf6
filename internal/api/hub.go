// Package api provides HTTP API server functionality.
package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/graaaaa/attention-collector/internal/messaging"
)

const (
	defaultSubscriberBufferSize = 16
	defaultBroadcastBufferSize  = 64
)

// Notice is one server-sent message. ID is assigned by the hub on publish.
type Notice struct {
	ID   uint64
	Type string
	Data json.RawMessage
}

// Subscriber represents an SSE client connection.
type Subscriber struct {
	events chan *Notice
	done   chan struct{}
}

// Events returns the channel for receiving notices.
func (s *Subscriber) Events() <-chan *Notice {
	return s.events
}

// Done returns a channel that is closed when the subscriber is unsubscribed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub manages SSE subscribers and broadcasts notices. One goroutine owns the
// subscriber set; everything else talks to it over channels.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *Notice
	seq        atomic.Uint64
	last       atomic.Pointer[Notice]
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	subscriberBufferSize int
	logger               *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubSubscriberBufferSize sets the buffer size for subscriber event channels.
func WithHubSubscriberBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.subscriberBufferSize = size
		}
	}
}

// WithHubLogger sets the logger for the Hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new SSE hub.
// Call Run() to start the hub's loop.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		register:             make(chan *Subscriber),
		unregister:           make(chan *Subscriber),
		broadcast:            make(chan *Notice, defaultBroadcastBufferSize),
		stop:                 make(chan struct{}),
		stopped:              make(chan struct{}),
		subscriberBufferSize: defaultSubscriberBufferSize,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's event loop.
// This method blocks until Stop() is called.
// Should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	clients := make(map[*Subscriber]struct{})
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			clients[sub] = struct{}{}
			h.logger.Debug("subscriber registered", "count", len(clients))

		case sub := <-h.unregister:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				close(sub.done)
				close(sub.events)
				h.logger.Debug("subscriber unregistered", "count", len(clients))
			}

		case n := <-h.broadcast:
			for sub := range clients {
				select {
				case sub.events <- n:
				default:
					h.logger.Warn("subscriber channel full, notice dropped",
						"id", n.ID,
						"type", n.Type,
					)
				}
			}

		case <-h.stop:
			// Close all subscriber channels
			for sub := range clients {
				close(sub.done)
				close(sub.events)
			}
			return
		}
	}
}

// Stop stops the hub's loop.
// Blocks until the hub has fully stopped.
// Safe to call multiple times (idempotent).
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// Subscribe creates a new subscriber.
// The caller must call Unsubscribe when done.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		events: make(chan *Notice, h.subscriberBufferSize),
		done:   make(chan struct{}),
	}

	select {
	case h.register <- sub:
		return sub
	case <-h.stopped:
		// Hub is stopped, return a closed subscriber
		close(sub.done)
		close(sub.events)
		return sub
	}
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	select {
	case h.unregister <- sub:
	case <-h.stopped:
		// Hub is stopped, nothing to do
	}
}

// Publish assigns the next id to n and queues it for every subscriber.
// Non-blocking: if the broadcast channel is full, the notice is dropped.
func (h *Hub) Publish(n *Notice) {
	if n == nil {
		return
	}
	n.ID = h.seq.Add(1)
	h.last.Store(n)

	select {
	case h.broadcast <- n:
	case <-h.stopped:
	default:
		h.logger.Warn("broadcast channel full, notice dropped",
			"id", n.ID,
			"type", n.Type,
		)
	}
}

// PublishJSON encodes v and publishes it under typ.
func (h *Hub) PublishJSON(typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(&Notice{Type: typ, Data: data})
	return nil
}

// Last returns the most recent notice, or nil.
func (h *Hub) Last() *Notice {
	return h.last.Load()
}

// Relay republishes every message published on bus. The returned func stops
// relaying.
func (h *Hub) Relay(bus *messaging.Bus) func() {
	return bus.Subscribe(func(m messaging.Message) {
		h.Publish(&Notice{Type: string(m.Type), Data: m.Payload})
	})
}
