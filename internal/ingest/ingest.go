package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/graaaaa/attention-collector/internal/app"
	"github.com/graaaaa/attention-collector/internal/page"
)

// Sessions is the session surface the ingester drives.
type Sessions interface {
	Open(ctx context.Context, req app.OpenRequest) (app.SessionInfo, error)
	Apply(ctx context.Context, id string, signals []page.Signal) (app.SessionInfo, error)
	Close(ctx context.Context, id string) (app.SessionInfo, error)
}

// Stats counts what a run did.
type Stats struct {
	Records       int `json:"records"`
	Opened        int `json:"opened"`
	Signals       int `json:"signals"`
	Closed        int `json:"closed"`
	ParseFailures int `json:"parse_failures"`
	Errors        int `json:"errors"`
}

// Ingester feeds records from a source into page sessions.
type Ingester struct {
	source   RecordSource
	sessions Sessions
	logger   *slog.Logger

	// label -> session id
	open  map[string]string
	stats Stats
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger for the Ingester.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates a new Ingester.
func New(source RecordSource, sessions Sessions, opts ...Option) *Ingester {
	i := &Ingester{
		source:   source,
		sessions: sessions,
		logger:   slog.Default(),
		open:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Stats returns the counters of the last Run. Not safe during Run.
func (i *Ingester) Stats() Stats { return i.stats }

// Run consumes the source until it closes or ctx is cancelled. Sessions the
// recording left open are closed before returning so their buffers persist.
// Returns ctx.Err() on context cancellation, nil on clean source shutdown.
func (i *Ingester) Run(ctx context.Context) error {
	records, errs, err := i.source.Start(ctx)
	if err != nil {
		return err
	}
	if records == nil || errs == nil {
		return errors.New("source returned nil channel")
	}

	i.logger.Info("replay started")
	defer i.closeRemaining(context.WithoutCancel(ctx))

	// Use nil-channel pattern: nil each channel when closed, exit when both are nil.
	recordsCh := records
	errsCh := errs

	for recordsCh != nil || errsCh != nil {
		select {
		case rec, ok := <-recordsCh:
			if !ok {
				recordsCh = nil
				continue
			}
			i.handleRecord(ctx, rec)
		case err, ok := <-errsCh:
			if !ok {
				errsCh = nil
				continue
			}
			i.handleError(err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (i *Ingester) handleRecord(ctx context.Context, rec Record) {
	i.stats.Records++
	log := i.logger.With("session", rec.Session, "line", rec.Line)

	switch {
	case rec.Open != nil:
		if _, ok := i.open[rec.Session]; ok {
			log.Warn("session already open, record skipped")
			i.stats.Errors++
			return
		}
		info, err := i.sessions.Open(ctx, *rec.Open)
		if err != nil {
			log.Warn("open failed", "error", err)
			i.stats.Errors++
			return
		}
		i.open[rec.Session] = info.ID
		i.stats.Opened++
		log.Debug("session opened", "id", info.ID, "adapter", info.Variant)

	case rec.Signal != nil:
		id, ok := i.open[rec.Session]
		if !ok {
			log.Warn("signal for unknown session", "kind", rec.Signal.Kind)
			i.stats.Errors++
			return
		}
		if _, err := i.sessions.Apply(ctx, id, []page.Signal{*rec.Signal}); err != nil {
			log.Warn("signal rejected", "kind", rec.Signal.Kind, "error", err)
			i.stats.Errors++
			if errors.Is(err, app.ErrSessionNotFound) {
				delete(i.open, rec.Session)
			}
			return
		}
		i.stats.Signals++
		if strings.EqualFold(rec.Signal.Kind, page.SignalUnload) {
			delete(i.open, rec.Session)
			i.stats.Closed++
		}

	case rec.Close:
		id, ok := i.open[rec.Session]
		if !ok {
			log.Warn("close for unknown session")
			i.stats.Errors++
			return
		}
		delete(i.open, rec.Session)
		if _, err := i.sessions.Close(ctx, id); err != nil {
			log.Warn("close failed", "error", err)
			i.stats.Errors++
			return
		}
		i.stats.Closed++
	}
}

// handleError processes an error from the source.
func (i *Ingester) handleError(err error) {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		i.stats.ParseFailures++
		i.logger.Warn("unparseable record",
			"line", parseErr.LineNum,
			"line_length", len(parseErr.Line),
			"error", parseErr.Err,
		)
		return
	}
	i.stats.Errors++
	i.logger.Warn("source error", "error", err)
}

func (i *Ingester) closeRemaining(ctx context.Context) {
	for label, id := range i.open {
		if _, err := i.sessions.Close(ctx, id); err != nil {
			i.logger.Warn("close at end of replay failed", "session", label, "error", err)
			i.stats.Errors++
		} else {
			i.stats.Closed++
		}
		delete(i.open, label)
	}
	i.logger.Info("replay finished",
		"records", i.stats.Records,
		"signals", i.stats.Signals,
		"parse_failures", i.stats.ParseFailures,
		"errors", i.stats.Errors,
	)
}
