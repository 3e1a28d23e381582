package parser

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

func newTestParser() *Parser {
	return New(WithLocation(time.UTC))
}

func TestParse_NoEnvelope(t *testing.T) {
	p := newTestParser()

	lines := []string{
		"",
		"Starting server",
		"(Filename: ./Runtime/Export/Debug/Debug.bindings.h Line: 35)",
		"Got connection SteamID 76561199036446150",
		"3/11/2021 19:47:02: Got connection SteamID 1",
		"03/11/2021 19:47: Got connection SteamID 1",
		"03/11/2021 19:47:02 Got connection SteamID 1",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			ev, err := p.Parse(line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev != nil {
				t.Errorf("expected no event, got %#v", ev)
			}
		})
	}
}

func TestParse_UninterestingLine(t *testing.T) {
	p := newTestParser()

	ev, err := p.Parse("03/11/2021 19:36:10: Starting to load scene:start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected no event, got %#v", ev)
	}
}

func TestParse_Events(t *testing.T) {
	p := newTestParser()
	ts := time.Date(2021, time.March, 11, 19, 47, 2, 0, time.UTC)

	tests := []struct {
		name string
		line string
		want event.Event
	}{
		{
			name: "connection",
			line: "03/11/2021 19:47:02: Got connection SteamID 76561199036446150",
			want: event.PeerConnected{Timestamp: ts, PeerID: 76561199036446150},
		},
		{
			name: "closing socket",
			line: "03/11/2021 19:47:02: Closing socket 76561199036446150",
			want: event.PeerDisconnected{Timestamp: ts, PeerID: 76561199036446150},
		},
		{
			name: "wrong password",
			line: "03/11/2021 19:47:02: Peer 76561197969472572 has wrong password",
			want: event.PeerRejected{Timestamp: ts, PeerID: 76561197969472572},
		},
		{
			name: "world saved",
			line: "03/11/2021 19:47:02: World saved ( 12.345ms )",
			want: event.WorldPersisted{Timestamp: ts, DurationMS: 12.345},
		},
		{
			name: "character spawned",
			line: "03/11/2021 19:47:02: Got character ZDOID from Bjorn : 120:45",
			want: event.CharacterActivated{Timestamp: ts, Character: "Bjorn", Coords: event.Coords{X: 120, Y: 45}},
		},
		{
			name: "character with spaces and negative coords",
			line: "03/11/2021 19:47:02: Got character ZDOID from Olaf the Stout : -7:-20",
			want: event.CharacterActivated{Timestamp: ts, Character: "Olaf the Stout", Coords: event.Coords{X: -7, Y: -20}},
		},
		{
			name: "character died",
			line: "03/11/2021 19:47:02: Got character ZDOID from Bjorn : 0:0",
			want: event.CharacterDeactivated{Timestamp: ts, Character: "Bjorn", Coords: event.Coords{}},
		},
		{
			name: "padded coordinates",
			line: "03/11/2021 19:47:02: Got character ZDOID from Bjorn : 120:45 ",
			want: event.CharacterActivated{Timestamp: ts, Character: "Bjorn", Coords: event.Coords{X: 120, Y: 45}},
		},
		{
			name: "carriage return",
			line: "03/11/2021 19:47:02: Closing socket 42\r",
			want: event.PeerDisconnected{Timestamp: ts, PeerID: 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParse_DeathDependsOnlyOnOrigin(t *testing.T) {
	p := newTestParser()
	values := []int64{0, 1, -1, 2, -2, 9999, -9999, 1 << 40}

	for _, x := range values {
		for _, y := range values {
			line := fmt.Sprintf("03/11/2021 19:47:02: Got character ZDOID from Bjorn : %d:%d", x, y)
			ev, err := p.Parse(line)
			if err != nil {
				t.Fatalf("Parse(%q): %v", line, err)
			}

			_, died := ev.(event.CharacterDeactivated)
			_, alive := ev.(event.CharacterActivated)
			wantDied := x == 0 && y == 0
			if died != wantDied || alive == wantDied {
				t.Errorf("(%d,%d): died=%v alive=%v, want died=%v", x, y, died, alive, wantDied)
			}
		}
	}
}

func TestParse_CharacterPatternTakesPriority(t *testing.T) {
	p := newTestParser()

	// The name also matches the world save pattern.
	ev, err := p.Parse("03/11/2021 19:47:02: Got character ZDOID from World saved ( 5ms ) : 3:4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := ev.(event.CharacterActivated)
	if !ok {
		t.Fatalf("expected CharacterActivated, got %#v", ev)
	}
	if got.Character != "World saved ( 5ms )" {
		t.Errorf("Character = %q", got.Character)
	}
}

func TestParse_Failures(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		line     string
		kind     ErrorKind
		sentinel error
	}{
		{
			name:     "impossible date",
			line:     "99/99/9999 00:00:00: World saved ( 12ms )",
			kind:     KindDateTime,
			sentinel: ErrDateTime,
		},
		{
			name:     "impossible time",
			line:     "03/11/2021 25:61:00: World saved ( 12ms )",
			kind:     KindDateTime,
			sentinel: ErrDateTime,
		},
		{
			name:     "peer id overflow",
			line:     "03/11/2021 19:47:02: Got connection SteamID 99999999999999999999999",
			kind:     KindInteger,
			sentinel: ErrInteger,
		},
		{
			name:     "non numeric coordinate",
			line:     "03/11/2021 19:47:02: Got character ZDOID from Bjorn : a:b",
			kind:     KindInteger,
			sentinel: ErrInteger,
		},
		{
			name:     "single coordinate",
			line:     "03/11/2021 19:47:02: Got character ZDOID from Bjorn : 12",
			kind:     KindInteger,
			sentinel: ErrInteger,
		},
		{
			name:     "bad save duration",
			line:     "03/11/2021 19:47:02: World saved ( 1.2.3ms )",
			kind:     KindFloat,
			sentinel: ErrFloat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := p.Parse(tt.line)
			if err == nil {
				t.Fatalf("expected error, got event %#v", ev)
			}
			if ev != nil {
				t.Errorf("expected nil event on error, got %#v", ev)
			}

			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", pe.Kind, tt.kind)
			}
			if pe.Line != tt.line {
				t.Errorf("Line = %q, want %q", pe.Line, tt.line)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
		})
	}
}

func TestParseError_Error(t *testing.T) {
	err := &ParseError{Kind: KindFloat, Field: "timing", Err: errors.New("boom")}
	if got, want := err.Error(), "unable to parse expected float value (timing): boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &ParseError{Kind: KindDateTime, Field: "x"}
	if !errors.Is(bare, ErrDateTime) {
		t.Error("errors.Is should match the kind sentinel without an underlying error")
	}
}

func TestErrorKind_String(t *testing.T) {
	tests := map[ErrorKind]string{
		KindDateTime: "datetime",
		KindInteger:  "integer",
		KindFloat:    "float",
		ErrorKind(0): "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}

func TestParser_ConcurrentUse(t *testing.T) {
	p := newTestParser()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				line := fmt.Sprintf("03/11/2021 19:47:02: Got connection SteamID %d", i*1000+j)
				ev, err := p.Parse(line)
				if err != nil {
					t.Errorf("Parse: %v", err)
					return
				}
				if got := ev.(event.PeerConnected).PeerID; got != uint64(i*1000+j) {
					t.Errorf("PeerID = %d, want %d", got, i*1000+j)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
