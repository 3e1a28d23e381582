// Package event provides the shared event model for Valheim Watcher.
// The typed variants are produced by the parser and consumed by derive;
// Record is the flattened form used by store, api and notify.
package event

import (
	"strconv"
	"time"
)

// Kind names an event variant.
type Kind string

// Event kind constants.
const (
	KindPeerConnected        Kind = "peer_connected"
	KindPeerDisconnected     Kind = "peer_disconnected"
	KindPeerRejected         Kind = "peer_rejected"
	KindWorldPersisted       Kind = "world_persisted"
	KindCharacterActivated   Kind = "character_activated"
	KindCharacterDeactivated Kind = "character_deactivated"
)

// Kinds returns every known kind in parser priority order.
func Kinds() []Kind {
	return []Kind{
		KindCharacterActivated,
		KindCharacterDeactivated,
		KindWorldPersisted,
		KindPeerConnected,
		KindPeerDisconnected,
		KindPeerRejected,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is one typed server log event.
type Event interface {
	Kind() Kind
	Time() time.Time
}

// PeerConnected is emitted when the transport accepts a connection.
type PeerConnected struct {
	Timestamp time.Time
	PeerID    uint64
}

// PeerDisconnected is emitted when a peer socket is closed.
type PeerDisconnected struct {
	Timestamp time.Time
	PeerID    uint64
}

// PeerRejected is emitted when a peer supplied a wrong password.
type PeerRejected struct {
	Timestamp time.Time
	PeerID    uint64
}

// WorldPersisted is emitted when a periodic world save completes.
type WorldPersisted struct {
	Timestamp  time.Time
	DurationMS float64
}

// Coords is an in-game location as reported by the server.
type Coords struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// IsOrigin reports whether c is the (0,0) "no location" sentinel.
func (c Coords) IsOrigin() bool {
	return c.X == 0 && c.Y == 0
}

// CharacterActivated is emitted when a character spawns at a location.
type CharacterActivated struct {
	Timestamp time.Time
	Character string
	Coords    Coords
}

// CharacterDeactivated is emitted when a character is removed (death).
type CharacterDeactivated struct {
	Timestamp time.Time
	Character string
	Coords    Coords
}

func (e PeerConnected) Kind() Kind        { return KindPeerConnected }
func (e PeerDisconnected) Kind() Kind     { return KindPeerDisconnected }
func (e PeerRejected) Kind() Kind         { return KindPeerRejected }
func (e WorldPersisted) Kind() Kind       { return KindWorldPersisted }
func (e CharacterActivated) Kind() Kind   { return KindCharacterActivated }
func (e CharacterDeactivated) Kind() Kind { return KindCharacterDeactivated }

func (e PeerConnected) Time() time.Time        { return e.Timestamp }
func (e PeerDisconnected) Time() time.Time     { return e.Timestamp }
func (e PeerRejected) Time() time.Time         { return e.Timestamp }
func (e WorldPersisted) Time() time.Time       { return e.Timestamp }
func (e CharacterActivated) Time() time.Time   { return e.Timestamp }
func (e CharacterDeactivated) Time() time.Time { return e.Timestamp }

// Record is the flattened, storable form of an Event.
// This is the domain model shared across packages, independent of storage implementation.
type Record struct {
	ID            int64     `json:"id"`
	Ts            time.Time `json:"ts"`
	Type          Kind      `json:"type"`
	PeerID        *string   `json:"peer_id,omitempty"`
	Character     *string   `json:"character,omitempty"`
	X             *int64    `json:"x,omitempty"`
	Y             *int64    `json:"y,omitempty"`
	DurationMS    *float64  `json:"duration_ms,omitempty"`
	RawLine       string    `json:"raw_line,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	DedupeKey     string    `json:"-"`
	IngestedAt    time.Time `json:"ingested_at"`
	SchemaVersion int       `json:"-"`
}

// NewRecord flattens e into a Record. Nil for an unknown variant.
func NewRecord(e Event) *Record {
	r := &Record{Ts: e.Time(), Type: e.Kind()}
	switch ev := e.(type) {
	case PeerConnected:
		r.PeerID = StringPtr(FormatPeerID(ev.PeerID))
	case PeerDisconnected:
		r.PeerID = StringPtr(FormatPeerID(ev.PeerID))
	case PeerRejected:
		r.PeerID = StringPtr(FormatPeerID(ev.PeerID))
	case WorldPersisted:
		d := ev.DurationMS
		r.DurationMS = &d
	case CharacterActivated:
		r.Character = StringPtr(ev.Character)
		r.X, r.Y = int64Ptr(ev.Coords.X), int64Ptr(ev.Coords.Y)
	case CharacterDeactivated:
		r.Character = StringPtr(ev.Character)
		r.X, r.Y = int64Ptr(ev.Coords.X), int64Ptr(ev.Coords.Y)
	default:
		return nil
	}
	return r
}

// FormatPeerID renders a peer identifier in decimal.
// Steam IDs exceed 2^53 so they travel as strings outside Go.
func FormatPeerID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// StringPtr returns a pointer to the given string.
// Useful for setting optional fields.
func StringPtr(s string) *string {
	return &s
}

func int64Ptr(v int64) *int64 {
	return &v
}
