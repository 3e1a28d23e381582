package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// EventStore defines store operations needed by Ingester.
type EventStore interface {
	InsertEvent(ctx context.Context, e *event.Record) (int64, bool, error)
	InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error)
}

// Ingested is what event hooks receive for each parsed event.
type Ingested struct {
	Event  Event
	Record *event.Record
	// Fresh is false when the store already held this line,
	// e.g. when a log file is re-read after a restart.
	Fresh bool
}

// EventHook is called for every event, in read order, after it is stored.
type EventHook func(ctx context.Context, in Ingested)

// FailureHook is called for every line that failed to parse.
type FailureHook func(err *ParseError)

// Ingester coordinates event ingestion from source to store and hooks.
type Ingester struct {
	source    EventSource
	store     EventStore
	logger    *slog.Logger
	clock     Clock
	runID     string
	onEvent   []EventHook
	onFailure []FailureHook
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger for the Ingester.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) { i.logger = logger }
}

// WithClock sets the clock for the Ingester (for testing).
func WithClock(clock Clock) Option {
	return func(i *Ingester) { i.clock = clock }
}

// WithRunID overrides the generated run id stamped on stored events.
func WithRunID(id string) Option {
	return func(i *Ingester) { i.runID = id }
}

// WithOnEvent registers a hook. Hooks run on the ingest goroutine in registration order.
func WithOnEvent(hook EventHook) Option {
	return func(i *Ingester) { i.onEvent = append(i.onEvent, hook) }
}

// WithOnParseFailure registers a parse failure hook.
func WithOnParseFailure(hook FailureHook) Option {
	return func(i *Ingester) { i.onFailure = append(i.onFailure, hook) }
}

// New creates a new Ingester. store may be nil, in which case nothing is persisted.
func New(source EventSource, store EventStore, opts ...Option) *Ingester {
	i := &Ingester{
		source: source,
		store:  store,
		logger: slog.Default(),
		clock:  DefaultClock,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.runID == "" {
		i.runID = uuid.NewString()
	}
	return i
}

// RunID returns the id stamped on events stored by this Ingester.
func (i *Ingester) RunID() string {
	return i.runID
}

// Run starts the ingestion loop. Blocks until ctx is cancelled or source closes.
// Returns ctx.Err() on context cancellation, nil on clean end of stream,
// and the *SourceError when the source failed.
func (i *Ingester) Run(ctx context.Context) error {
	events, errs, err := i.source.Start(ctx)
	if err != nil {
		return err
	}
	if events == nil || errs == nil {
		return errors.New("source returned nil channel")
	}

	i.logger.Info("ingestion started", "run_id", i.runID)
	defer i.logger.Info("ingestion stopped", "run_id", i.runID)

	// Use nil-channel pattern: nil each channel when closed, exit when both are nil.
	eventsCh := events
	errsCh := errs
	firstClosed := ""
	var fatal error

	for eventsCh != nil || errsCh != nil {
		select {
		case ev, ok := <-eventsCh:
			if !ok {
				if firstClosed == "" {
					firstClosed = "events"
				}
				eventsCh = nil
				continue
			}
			i.handleEvent(ctx, ev)
		case err, ok := <-errsCh:
			if !ok {
				if firstClosed == "" {
					firstClosed = "errs"
				}
				errsCh = nil
				continue
			}
			if f := i.handleError(ctx, err); f != nil {
				fatal = f
			}
		case <-ctx.Done():
			if firstClosed != "" {
				i.logger.Debug("channel closed before context", "channel", firstClosed)
			}
			return ctx.Err()
		}
	}

	if firstClosed != "" {
		i.logger.Debug("ingestion channels closed", "first_closed", firstClosed)
	}
	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// handleEvent stores a single event and runs the hooks.
// Hooks run even when storing fails; history is an audit log, not the source of truth.
func (i *Ingester) handleEvent(ctx context.Context, ev Event) {
	rec := ToRecordWithClock(ev, i.runID, i.clock)
	if rec == nil {
		i.logger.Warn("dropping event of unknown kind", "line", ev.LineNo)
		return
	}

	fresh := true
	if i.store != nil {
		id, inserted, err := i.store.InsertEvent(ctx, rec)
		switch {
		case err != nil:
			i.logger.Error("failed to insert event",
				"type", rec.Type,
				"error", err,
			)
		case inserted:
			rec.ID = id
			i.logger.Debug("event inserted",
				"type", rec.Type,
				"ts", rec.Ts,
			)
		default:
			fresh = false
		}
	}

	in := Ingested{Event: ev, Record: rec, Fresh: fresh}
	for _, hook := range i.onEvent {
		hook(ctx, in)
	}
}

// handleError processes an error from the source. Returns the error if it is fatal.
func (i *Ingester) handleError(ctx context.Context, err error) error {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		i.handleParseError(ctx, parseErr)
		return nil
	}

	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		i.logger.Error("source failed", "error", err)
		return err
	}

	// Log other errors
	i.logger.Warn("source error", "error", err)
	return nil
}

// handleParseError saves a parse failure to the database.
func (i *Ingester) handleParseError(ctx context.Context, parseErr *ParseError) {
	i.logger.Warn("unparsable line",
		"line", parseErr.LineNo,
		"error", parseErr.Err,
	)
	for _, hook := range i.onFailure {
		hook(parseErr)
	}
	if i.store == nil {
		return
	}

	errMsg := ""
	if parseErr.Err != nil {
		errMsg = parseErr.Err.Error()
	}

	inserted, err := i.store.InsertParseFailure(ctx, parseErr.Line, errMsg)
	if err != nil {
		i.logger.Error("failed to insert parse failure",
			"error", err,
		)
		return
	}

	if inserted {
		i.logger.Debug("parse failure recorded",
			"line_length", len(parseErr.Line),
		)
	}
}
