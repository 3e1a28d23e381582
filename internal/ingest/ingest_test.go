package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/parser"
)

// MockEventSource implements EventSource for testing.
type MockEventSource struct {
	events chan Event
	errs   chan error
}

func NewMockEventSource() *MockEventSource {
	return &MockEventSource{
		events: make(chan Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *MockEventSource) Start(ctx context.Context) (<-chan Event, <-chan error, error) {
	// Create output channels that close when context is done or input channels close
	eventCh := make(chan Event)
	errCh := make(chan error)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		// Use nil-channel pattern
		events := m.events
		errs := m.errs

		for events != nil || errs != nil {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				select {
				case eventCh <- ev:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventCh, errCh, nil
}

func (m *MockEventSource) SendEvent(ev Event) {
	m.events <- ev
}

func (m *MockEventSource) SendError(err error) {
	m.errs <- err
}

func (m *MockEventSource) CloseEvents() {
	close(m.events)
}

func (m *MockEventSource) CloseErrors() {
	close(m.errs)
}

func (m *MockEventSource) Close() {
	m.CloseEvents()
	m.CloseErrors()
}

// MockEventStore implements EventStore for testing.
type MockEventStore struct {
	mu             sync.Mutex
	insertedEvents []*event.Record
	insertedErrors []string
	seen           map[string]bool
	insertEventErr error
	insertFailErr  error
	nextID         int64
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{nextID: 1, seen: make(map[string]bool)}
}

func (m *MockEventStore) InsertEvent(ctx context.Context, e *event.Record) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertEventErr != nil {
		return 0, false, m.insertEventErr
	}
	if m.seen[e.DedupeKey] {
		return 0, false, nil
	}
	m.seen[e.DedupeKey] = true

	id := m.nextID
	m.nextID++
	m.insertedEvents = append(m.insertedEvents, e)
	return id, true, nil
}

func (m *MockEventStore) InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertFailErr != nil {
		return false, m.insertFailErr
	}

	m.insertedErrors = append(m.insertedErrors, rawLine)
	return true, nil
}

func (m *MockEventStore) GetInsertedEvents() []*event.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*event.Record(nil), m.insertedEvents...)
}

func (m *MockEventStore) GetInsertedErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.insertedErrors...)
}

// hookRecorder collects hook calls.
type hookRecorder struct {
	mu  sync.Mutex
	got []Ingested
}

func (h *hookRecorder) hook(_ context.Context, in Ingested) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, in)
}

func (h *hookRecorder) calls() []Ingested {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Ingested(nil), h.got...)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ingester to stop")
		return nil
	}
}

func connectEvent(id uint64, line int64) Event {
	return Event{
		Event:   event.PeerConnected{Timestamp: time.Now(), PeerID: id},
		RawLine: "03/11/2021 19:47:02: Got connection SteamID 1",
		LineNo:  line,
	}
}

func TestIngester_HandleEvent(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	rec := &hookRecorder{}
	ingester := New(source, store, WithRunID("run-1"), WithOnEvent(rec.hook))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(ctx)
	}()

	ev := connectEvent(76561199036446150, 1)
	source.SendEvent(ev)
	source.Close()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected nil on end of stream, got %v", err)
	}

	events := store.GetInsertedEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != event.KindPeerConnected {
		t.Errorf("expected type peer_connected, got %s", events[0].Type)
	}
	if events[0].DedupeKey != DedupeKey(1, ev.RawLine) {
		t.Errorf("unexpected dedupe key %s", events[0].DedupeKey)
	}
	if events[0].RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", events[0].RunID)
	}

	calls := rec.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 hook call, got %d", len(calls))
	}
	if !calls[0].Fresh || calls[0].Record.ID != 1 {
		t.Errorf("hook got %+v, want fresh record with id 1", calls[0])
	}
}

func TestIngester_DuplicateLineNotFresh(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	rec := &hookRecorder{}
	ingester := New(source, store, WithOnEvent(rec.hook))

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	source.SendEvent(connectEvent(1, 1))
	source.SendEvent(connectEvent(1, 1))
	source.Close()
	waitDone(t, done)

	calls := rec.calls()
	if len(calls) != 2 {
		t.Fatalf("hooks must see every event, got %d calls", len(calls))
	}
	if !calls[0].Fresh || calls[1].Fresh {
		t.Errorf("fresh flags = %v, %v; want true, false", calls[0].Fresh, calls[1].Fresh)
	}
}

func TestIngester_StoreFailureStillRunsHooks(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	store.insertEventErr = errors.New("disk full")
	rec := &hookRecorder{}
	ingester := New(source, store, WithOnEvent(rec.hook))

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	source.SendEvent(connectEvent(1, 1))
	source.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("store failure must not stop ingestion, got %v", err)
	}

	calls := rec.calls()
	if len(calls) != 1 || !calls[0].Fresh {
		t.Errorf("expected one fresh hook call, got %+v", calls)
	}
}

func TestIngester_NilStore(t *testing.T) {
	source := NewMockEventSource()
	rec := &hookRecorder{}
	ingester := New(source, nil, WithOnEvent(rec.hook))

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	source.SendEvent(connectEvent(1, 1))
	source.SendError(&ParseError{Line: "bad", Err: errors.New("test")})
	source.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.calls()) != 1 {
		t.Errorf("expected 1 hook call, got %d", len(rec.calls()))
	}
}

func TestIngester_HandleParseError(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	var failures []*ParseError
	ingester := New(source, store, WithOnParseFailure(func(err *ParseError) {
		failures = append(failures, err)
	}))

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	rawLine := "99/99/9999 00:00:00: World saved ( 12ms )"
	source.SendError(&ParseError{Line: rawLine, Err: errors.New("parse failed")})
	source.Close()
	waitDone(t, done)

	errs := store.GetInsertedErrors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0] != rawLine {
		t.Errorf("expected raw line %q, got %q", rawLine, errs[0])
	}
	if len(failures) != 1 {
		t.Errorf("expected 1 failure hook call, got %d", len(failures))
	}
}

func TestIngester_SourceErrorIsReturned(t *testing.T) {
	source := NewMockEventSource()
	ingester := New(source, NewMockEventStore())

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	readErr := errors.New("broken pipe")
	source.SendError(&SourceError{Err: readErr})
	source.Close()

	err := waitDone(t, done)
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected *SourceError, got %v", err)
	}
	if !errors.Is(err, readErr) {
		t.Error("expected source error to wrap the read error")
	}
}

func TestIngester_ContextCancellation(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	ingester := New(source, store)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(ctx)
	}()

	// Cancel immediately
	cancel()

	if err := waitDone(t, done); err != context.Canceled {
		t.Errorf("expected context.Canceled on cancellation, got: %v", err)
	}
}

func TestIngester_EventsCloseBeforeErrors(t *testing.T) {
	source := NewMockEventSource()
	store := NewMockEventStore()
	ingester := New(source, store)

	done := make(chan error, 1)
	go func() {
		done <- ingester.Run(context.Background())
	}()

	source.SendEvent(connectEvent(1, 1))
	time.Sleep(20 * time.Millisecond)

	// Close events channel, but keep errors open
	source.CloseEvents()

	source.SendError(&ParseError{Line: "bad", Err: errors.New("test")})
	time.Sleep(20 * time.Millisecond)

	source.CloseErrors()

	if err := waitDone(t, done); err != nil {
		t.Errorf("expected nil when channels close, got: %v", err)
	}

	if n := len(store.GetInsertedEvents()); n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
	if n := len(store.GetInsertedErrors()); n != 1 {
		t.Errorf("expected 1 error, got %d", n)
	}
}

func TestIngester_RunIDGenerated(t *testing.T) {
	a := New(NewMockEventSource(), nil)
	b := New(NewMockEventSource(), nil)

	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Errorf("expected distinct generated run ids, got %q and %q", a.RunID(), b.RunID())
	}
}

func TestParseError_Error(t *testing.T) {
	parseErr := &ParseError{
		Line: "bad line",
		Err:  errors.New("parse failed"),
	}
	if parseErr.Error() != "parse failed" {
		t.Errorf("Error() = %q, want %q", parseErr.Error(), "parse failed")
	}

	parseErr2 := &ParseError{Line: "bad line"}
	if parseErr2.Error() != "parse error" {
		t.Errorf("Error() = %q, want %q", parseErr2.Error(), "parse error")
	}
}

func TestParseError_Unwrap(t *testing.T) {
	p := parser.New()
	_, err := p.Parse("99/99/9999 00:00:00: World saved ( 12ms )")

	parseErr := &ParseError{Line: "bad line", Err: err}
	if !errors.Is(parseErr, parser.ErrDateTime) {
		t.Error("errors.Is should see through to the parser sentinel")
	}
}

// TestPipeline_EndToEnd feeds raw server output through a ReaderSource and
// the Ingester into an identity correlator.
func TestPipeline_EndToEnd(t *testing.T) {
	output := strings.Join([]string{
		"Valheim version:0.147.3",
		"03/11/2021 19:47:02: Got connection SteamID 76561199036446150",
		"03/11/2021 19:47:05: 99/99 garbage",
		"99/99/9999 00:00:00: World saved ( 12ms )",
		"03/11/2021 19:47:10: Got character ZDOID from Bjorn : 120:45",
		"03/11/2021 19:50:00: World saved ( 21.5ms )",
		"03/11/2021 19:52:00: Got character ZDOID from Bjorn : 0:0",
		"03/11/2021 19:55:00: Closing socket 76561199036446150",
		"03/11/2021 19:55:01: Closing socket 76561199036446150",
	}, "\n") + "\n"

	src := NewReaderSource(strings.NewReader(output), WithParser(parser.New(parser.WithLocation(time.UTC))))
	store := NewMockEventStore()
	state := derive.New()

	var (
		mu    sync.Mutex
		notes []derive.Notification
	)
	ingester := New(src, store, WithOnEvent(func(_ context.Context, in Ingested) {
		n := state.Apply(in.Event.Event)
		mu.Lock()
		notes = append(notes, n...)
		mu.Unlock()
	}))

	if err := ingester.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantTypes := []derive.NotificationType{
		derive.NotifyPeerIdentified,
		derive.NotifyWorldSaved,
		derive.NotifyCharacterDied,
		derive.NotifyPeerDisconnected,
	}
	if len(notes) != len(wantTypes) {
		t.Fatalf("got %d notifications %+v, want %d", len(notes), notes, len(wantTypes))
	}
	for i, want := range wantTypes {
		if notes[i].Type != want {
			t.Errorf("notification %d = %v, want %v", i, notes[i].Type, want)
		}
	}
	if notes[2].PeerID != 76561199036446150 || notes[2].Character != "Bjorn" {
		t.Errorf("death notification = %+v", notes[2])
	}

	if n := len(store.GetInsertedEvents()); n != 6 {
		t.Errorf("stored %d events, want 6", n)
	}
	if errs := store.GetInsertedErrors(); len(errs) != 1 || !strings.HasPrefix(errs[0], "99/99/9999") {
		t.Errorf("parse failures = %v", errs)
	}
	if len(state.Identities()) != 0 {
		t.Errorf("identities = %v, want empty after disconnect", state.Identities())
	}
}
