package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/graaaaa/attention-collector/internal/timer"
)

// PendingSuffix is appended to the event log key to form the pending key.
const PendingSuffix = ":pending"

// Status represents the current status of the dispatcher.
type Status struct {
	Disabled       bool
	DisabledReason string
	DisabledAt     time.Time
	BackoffUntil   time.Time
	Attempt        int
}

// Report describes one Dispatch call.
type Report struct {
	Result  Result
	Sent    int  // events accepted by the endpoint
	Pending int  // events kept for a later attempt
	Skipped bool // no request was made (disabled or backing off)
}

// Dispatcher sends already-persisted events and keeps the ones that could
// not be sent under the pending key for the next attempt. It never touches the
// main event log. One Dispatcher serves every collector in the process, so a
// fatal result turns uploads off for all of them.
type Dispatcher struct {
	sender  Sender
	pending *storage.EventLog
	creds   Credentials
	backoff *BackoffCalculator
	clock   timer.Clock
	logger  *slog.Logger

	// mu serializes Dispatch so pending read-modify-write is not interleaved.
	mu     sync.Mutex
	status Status
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBackoff sets the backoff calculator (seeded in tests).
func WithBackoff(b *BackoffCalculator) DispatcherOption {
	return func(d *Dispatcher) { d.backoff = b }
}

// WithClock sets the time source.
func WithClock(c timer.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher. pending may be nil, in which case events
// that fail to send are only kept in the main log.
func NewDispatcher(sender Sender, pending *storage.EventLog, creds Credentials, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		pending: pending,
		creds:   creds,
		backoff: NewBackoffCalculator(DefaultBackoffConfig),
		clock:   timer.DefaultClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PendingLog returns the pending event log for key in kv.
func PendingLog(kv storage.KV, key string) *storage.EventLog {
	return storage.NewEventLog(kv, key+PendingSuffix)
}

// Dispatch uploads previously pending events followed by batch.
// Failures are logged and reflected in the report, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []event.Event) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status.Disabled {
		return Report{Result: ResultFatal, Skipped: true}
	}

	queued, loaded := d.loadPending(ctx)
	events := make([]event.Event, 0, len(queued)+len(batch))
	events = append(events, queued...)
	events = append(events, batch...)
	if len(events) == 0 {
		return Report{Result: ResultOK}
	}

	now := d.clock.Now()
	if now.Before(d.status.BackoffUntil) {
		d.logger.Debug("in backoff period, keeping events pending",
			"pending", len(events),
			"backoff_until", d.status.BackoffUntil,
		)
		d.appendPending(ctx, batch)
		return Report{Result: ResultRetryable, Pending: len(events), Skipped: true}
	}

	address := ""
	if d.creds != nil {
		address = d.creds.Address()
	}

	sent := 0
	result := ResultOK
	var retryAfter time.Duration
	for _, req := range BuildBatches(address, events) {
		result, retryAfter = d.sender.Send(ctx, req)
		if result != ResultOK {
			break
		}
		sent += len(req.Events)
	}
	d.handleResult(result, retryAfter)

	rest := events[sent:]
	if result == ResultFatal {
		// Uploads are off for good; the main log remains the record.
		if loaded {
			d.storePending(ctx, nil)
		}
		return Report{Result: result, Sent: sent}
	}
	if !loaded {
		// The queue could not be read, so it must not be overwritten.
		d.appendPending(ctx, rest)
		return Report{Result: result, Sent: sent, Pending: len(rest)}
	}
	d.storePending(ctx, rest)
	return Report{Result: result, Sent: sent, Pending: len(rest)}
}

func (d *Dispatcher) handleResult(result Result, retryAfter time.Duration) {
	switch result {
	case ResultOK:
		d.status.Attempt = 0
		d.status.BackoffUntil = time.Time{}

	case ResultRetryable:
		delay := retryAfter
		if delay == 0 {
			delay = d.backoff.Calculate(d.status.Attempt)
		}
		d.status.Attempt++
		d.status.BackoffUntil = d.clock.Now().Add(delay)
		d.logger.Warn("upload failed, backing off",
			"attempt", d.status.Attempt,
			"backoff_until", d.status.BackoffUntil,
		)

	case ResultFatal:
		d.status.Disabled = true
		d.status.DisabledReason = "fatal error (missing endpoint or credentials rejected)"
		d.status.DisabledAt = d.clock.Now()
		d.logger.Error("upload fatal error, uploads disabled")
	}
}

func (d *Dispatcher) loadPending(ctx context.Context) ([]event.Event, bool) {
	if d.pending == nil {
		return nil, true
	}
	events, err := d.pending.Load(ctx)
	if err != nil {
		d.logger.Warn("failed to load pending uploads", "error", err)
		return nil, false
	}
	return events, true
}

func (d *Dispatcher) appendPending(ctx context.Context, batch []event.Event) {
	if d.pending == nil || len(batch) == 0 {
		return
	}
	if _, err := d.pending.Append(ctx, batch); err != nil {
		d.logger.Warn("failed to keep events pending", "error", err, "count", len(batch))
	}
}

func (d *Dispatcher) storePending(ctx context.Context, events []event.Event) {
	if d.pending == nil {
		return
	}
	var err error
	if len(events) == 0 {
		err = d.pending.Clear(ctx)
	} else {
		err = d.pending.Replace(ctx, events)
	}
	if err != nil {
		d.logger.Warn("failed to update pending uploads", "error", err)
	}
}

// Status returns the current dispatcher status.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
