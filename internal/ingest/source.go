// Package ingest reads Valheim server output, parses it and hands events to the store and hooks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/parser"
)

// EventSource abstracts event production for testing.
// Implementations should close both channels when ctx is cancelled, at end of stream, or on fatal error.
type EventSource interface {
	// Start begins producing events. Returns channels that close on ctx.Done().
	// The error channel carries *ParseError values during operation and at most
	// one *SourceError, after which both channels close.
	Start(ctx context.Context) (<-chan Event, <-chan error, error)
}

// Event is one parsed log event together with its source line.
type Event struct {
	Event   event.Event
	RawLine string
	LineNo  int64
}

// ParseError wraps a parse failure with the original line.
type ParseError struct {
	Line   string
	LineNo int64
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "parse error"
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// SourceError is a read failure that ends the stream.
type SourceError struct {
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("read log stream: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Default buffer sizes for channels.
const (
	DefaultEventBufferSize = 64
	DefaultErrorBufferSize = 16
)

// sourceConfig holds the settings shared by ReaderSource and FileSource.
type sourceConfig struct {
	parser          *parser.Parser
	tee             io.Writer
	onLine          func()
	logger          *slog.Logger
	eventBufferSize int
	errorBufferSize int
}

// SourceOption configures a ReaderSource or FileSource.
type SourceOption func(*sourceConfig)

// WithParser sets the parser. Defaults to parser.New().
func WithParser(p *parser.Parser) SourceOption {
	return func(c *sourceConfig) {
		if p != nil {
			c.parser = p
		}
	}
}

// WithTee copies every raw line, newline terminated, to w.
func WithTee(w io.Writer) SourceOption {
	return func(c *sourceConfig) { c.tee = w }
}

// WithOnLine registers a callback invoked once per line read.
func WithOnLine(fn func()) SourceOption {
	return func(c *sourceConfig) { c.onLine = fn }
}

// WithSourceLogger sets the logger for the source.
// If logger is nil, it is ignored and the default logger is retained.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(c *sourceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventBufferSize sets the event channel buffer size.
func WithEventBufferSize(size int) SourceOption {
	return func(c *sourceConfig) { c.eventBufferSize = size }
}

// WithErrorBufferSize sets the error channel buffer size.
func WithErrorBufferSize(size int) SourceOption {
	return func(c *sourceConfig) { c.errorBufferSize = size }
}

func newSourceConfig(opts []SourceOption) sourceConfig {
	c := sourceConfig{
		logger:          slog.Default(),
		eventBufferSize: DefaultEventBufferSize,
		errorBufferSize: DefaultErrorBufferSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.parser == nil {
		c.parser = parser.New()
	}
	// Validate buffer sizes (minimum 1 to avoid unbuffered channels)
	if c.eventBufferSize < 1 {
		c.eventBufferSize = 1
	}
	if c.errorBufferSize < 1 {
		c.errorBufferSize = 1
	}
	return c
}

// emitter turns raw lines into channel sends. Owned by one goroutine.
type emitter struct {
	cfg       *sourceConfig
	events    chan Event
	errs      chan error
	lineNo    int64
	teeFailed bool
}

func newEmitter(cfg *sourceConfig) *emitter {
	return &emitter{
		cfg:    cfg,
		events: make(chan Event, cfg.eventBufferSize),
		errs:   make(chan error, cfg.errorBufferSize),
	}
}

// line handles one raw line. Returns false when ctx is done.
func (em *emitter) line(ctx context.Context, raw string) bool {
	em.lineNo++
	if em.cfg.onLine != nil {
		em.cfg.onLine()
	}
	em.copy(raw)

	ev, err := em.cfg.parser.Parse(raw)
	if err != nil {
		var pe *parser.ParseError
		line := raw
		if errors.As(err, &pe) {
			line = pe.Line
		}
		return em.send(ctx, &ParseError{Line: line, LineNo: em.lineNo, Err: err})
	}
	if ev == nil {
		return true
	}

	select {
	case em.events <- Event{Event: ev, RawLine: raw, LineNo: em.lineNo}:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail reports a fatal read error.
func (em *emitter) fail(ctx context.Context, err error) {
	em.send(ctx, &SourceError{Err: err})
}

func (em *emitter) send(ctx context.Context, err error) bool {
	select {
	case em.errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

func (em *emitter) copy(raw string) {
	if em.cfg.tee == nil || em.teeFailed {
		return
	}
	if _, err := io.WriteString(em.cfg.tee, raw+"\n"); err != nil {
		em.teeFailed = true
		em.cfg.logger.Warn("server log copy failed, disabling", "error", err)
	}
}

func (em *emitter) close() {
	close(em.events)
	close(em.errs)
}
