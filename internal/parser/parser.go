// Package parser turns Valheim dedicated server log lines into typed events.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// Layouts for the envelope prefix "MM/DD/YYYY HH:MM:SS: ".
const (
	DateLayout = "01/02/2006"
	TimeLayout = "15:04:05"
)

// rule is one recognized sub-pattern and the builder for its event.
// groups holds the pattern's capture groups in declaration order.
type rule struct {
	re    *regexp.Regexp
	build func(ts time.Time, groups []string) (event.Event, error)
}

// Parser extracts events from log lines.
// A Parser is immutable after New and safe for concurrent use.
type Parser struct {
	envelope *regexp.Regexp
	rules    []rule
	loc      *time.Location
}

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the time zone the server clock is interpreted in.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// New compiles the line patterns and returns a ready Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		envelope: regexp.MustCompile(`(?P<day>\d{2}/\d{2}/\d{4})\s(?P<time>\d{2}:\d{2}:\d{2}):\s(?P<rest>.*)`),
		loc:      time.Local,
	}

	// Order is significant: the first match wins.
	p.rules = []rule{
		{
			re:    regexp.MustCompile(`Got\scharacter\sZDOID\sfrom\s(?P<name>.*)\s:\s(?P<location>.*)$`),
			build: buildCharacter,
		},
		{
			re:    regexp.MustCompile(`World\ssaved\s\(\s(?P<timing>.+)ms\s\)`),
			build: buildWorldSave,
		},
		{
			re:    regexp.MustCompile(`Got\sconnection\sSteamID\s(?P<peer>\d+)$`),
			build: peerBuilder(func(ts time.Time, id uint64) event.Event { return event.PeerConnected{Timestamp: ts, PeerID: id} }),
		},
		{
			re:    regexp.MustCompile(`Closing\ssocket\s(?P<peer>\d+)$`),
			build: peerBuilder(func(ts time.Time, id uint64) event.Event { return event.PeerDisconnected{Timestamp: ts, PeerID: id} }),
		},
		{
			re:    regexp.MustCompile(`Peer\s(?P<peer>\d+)\shas\swrong\spassword$`),
			build: peerBuilder(func(ts time.Time, id uint64) event.Event { return event.PeerRejected{Timestamp: ts, PeerID: id} }),
		},
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts at most one event from line.
//
// Returns (nil, nil) when the line carries no recognized event, which is
// the case for most server output. A *ParseError is returned when a line
// has a recognized shape but a malformed value; callers are expected to
// log it and keep reading.
func (p *Parser) Parse(line string) (event.Event, error) {
	line = strings.TrimRight(line, "\r\n")

	m := p.envelope.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	day := m[p.envelope.SubexpIndex("day")]
	clock := m[p.envelope.SubexpIndex("time")]
	rest := m[p.envelope.SubexpIndex("rest")]

	ts, err := p.parseTimestamp(day, clock)
	if err != nil {
		return nil, &ParseError{Kind: KindDateTime, Line: line, Field: day + " " + clock, Err: err}
	}

	for _, r := range p.rules {
		sub := r.re.FindStringSubmatch(rest)
		if sub == nil {
			continue
		}
		ev, err := r.build(ts, sub[1:])
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Line = line
			}
			return nil, err
		}
		return ev, nil
	}
	return nil, nil
}

func (p *Parser) parseTimestamp(day, clock string) (time.Time, error) {
	date, err := time.ParseInLocation(DateLayout, day, p.loc)
	if err != nil {
		return time.Time{}, err
	}
	tod, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0, p.loc), nil
}

func buildCharacter(ts time.Time, g []string) (event.Event, error) {
	name, location := g[0], g[1]

	parts := strings.Split(location, ":")
	if len(parts) < 2 {
		return nil, &ParseError{Kind: KindInteger, Field: "location", Err: fmt.Errorf("expected x:y, got %q", location)}
	}
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, &ParseError{Kind: KindInteger, Field: "x", Err: err}
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return nil, &ParseError{Kind: KindInteger, Field: "y", Err: err}
	}

	coords := event.Coords{X: x, Y: y}
	if coords.IsOrigin() {
		return event.CharacterDeactivated{Timestamp: ts, Character: name, Coords: coords}, nil
	}
	return event.CharacterActivated{Timestamp: ts, Character: name, Coords: coords}, nil
}

func buildWorldSave(ts time.Time, g []string) (event.Event, error) {
	ms, err := strconv.ParseFloat(strings.TrimSpace(g[0]), 64)
	if err != nil {
		return nil, &ParseError{Kind: KindFloat, Field: "timing", Err: err}
	}
	return event.WorldPersisted{Timestamp: ts, DurationMS: ms}, nil
}

func peerBuilder(mk func(ts time.Time, id uint64) event.Event) func(time.Time, []string) (event.Event, error) {
	return func(ts time.Time, g []string) (event.Event, error) {
		id, err := strconv.ParseUint(g[0], 10, 64)
		if err != nil {
			return nil, &ParseError{Kind: KindInteger, Field: "peer_id", Err: err}
		}
		return mk(ts, id), nil
	}
}
