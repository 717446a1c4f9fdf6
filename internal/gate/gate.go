// Package gate holds the authorization and consent signals that decide
// whether page sessions may capture events.
package gate

import (
	"slices"
	"sync"

	"github.com/graaaaa/attention-collector/internal/config"
)

// Status is a snapshot of the gating signals.
type Status struct {
	Authorized bool   `json:"authorized"`
	Consent    bool   `json:"consent"`
	Address    string `json:"address,omitempty"`
}

// Allowed reports whether capture may run: both signals must be present.
func (s Status) Allowed() bool { return s.Authorized && s.Consent }

// Gate is safe for concurrent use. Subscribers run synchronously on the
// goroutine that changed the status, outside the gate's lock.
type Gate struct {
	mu     sync.Mutex
	status Status
	token  config.Secret
	nextID int
	subs   map[int]func(Status)
}

// New returns a closed gate.
func New() *Gate {
	return &Gate{subs: make(map[int]func(Status))}
}

// Status returns the current snapshot.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Allowed is shorthand for Status().Allowed().
func (g *Gate) Allowed() bool { return g.Status().Allowed() }

// Authorize records a successful wallet authentication.
func (g *Gate) Authorize(address string, token config.Secret) {
	g.update(func(s *Status) {
		s.Authorized = true
		s.Address = address
		g.token = token
	})
}

// Revoke clears the authorization and the upload token.
func (g *Gate) Revoke() {
	g.update(func(s *Status) {
		s.Authorized = false
		s.Address = ""
		g.token = ""
	})
}

// SetConsent records the user's consent decision.
func (g *Gate) SetConsent(consent bool) {
	g.update(func(s *Status) { s.Consent = consent })
}

// Address implements upload.Credentials.
func (g *Gate) Address() string { return g.Status().Address }

// UploadToken implements upload.Credentials.
func (g *Gate) UploadToken() config.Secret {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// Subscribe registers fn for status changes. Returns an unsubscribe func.
func (g *Gate) Subscribe(fn func(Status)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.subs[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *Gate) update(mutate func(*Status)) {
	g.mu.Lock()
	before := g.status
	mutate(&g.status)
	after := g.status
	var subs []func(Status)
	if after != before {
		ids := make([]int, 0, len(g.subs))
		for id := range g.subs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			subs = append(subs, g.subs[id])
		}
	}
	g.mu.Unlock()

	for _, fn := range subs {
		fn(after)
	}
}

