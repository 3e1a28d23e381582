// Package derive correlates peer connections with spawned characters.
// It keeps the live peer -> character table used for notifications and display.
package derive

import (
	"slices"
	"sync"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
)

// NotificationType indicates what changed after processing an event.
type NotificationType int

const (
	// NotifyPeerIdentified indicates a pending peer was paired with a character.
	NotifyPeerIdentified NotificationType = iota + 1
	// NotifyPeerDisconnected indicates an identified peer left.
	NotifyPeerDisconnected
	// NotifyPeerRejected indicates a peer gave the wrong password.
	NotifyPeerRejected
	// NotifyWorldSaved indicates a world save completed.
	NotifyWorldSaved
	// NotifyCharacterDied indicates a character was removed at the origin.
	NotifyCharacterDied
)

// String returns the label used in config, metrics and the SSE stream.
func (t NotificationType) String() string {
	switch t {
	case NotifyPeerIdentified:
		return "peer_identified"
	case NotifyPeerDisconnected:
		return "peer_disconnected"
	case NotifyPeerRejected:
		return "peer_rejected"
	case NotifyWorldSaved:
		return "world_saved"
	case NotifyCharacterDied:
		return "character_died"
	default:
		return "unknown"
	}
}

// UnknownPeer is the label used when a character cannot be traced to a peer.
const UnknownPeer = "unknown"

// Notification is a state change for external delivery.
type Notification struct {
	Type NotificationType
	Time time.Time

	// PeerID is valid only when PeerKnown is true.
	PeerID    uint64
	PeerKnown bool

	Character  string
	DurationMS float64
}

// PeerLabel renders the peer id, or UnknownPeer.
func (n Notification) PeerLabel() string {
	if !n.PeerKnown {
		return UnknownPeer
	}
	return event.FormatPeerID(n.PeerID)
}

// Identity is one row of the identity table.
type Identity struct {
	PeerID    uint64 `json:"peer_id,string"`
	Character string `json:"character"`
}

// Snapshot is a point-in-time copy of the correlator state.
type Snapshot struct {
	Identities        []Identity `json:"identities"`
	PendingPeers      []uint64   `json:"pending_peers"`
	PendingCharacters []string   `json:"pending_characters"`
}

// State pairs connections with characters in arrival order.
//
// Pairing is strict FIFO: the oldest unmatched peer is bound to the oldest
// unmatched character. The log carries no session token, so two peers racing
// between connect and spawn can be swapped.
//
// It is safe for concurrent use.
type State struct {
	mu           sync.RWMutex
	pendingPeers []uint64
	pendingChars []string
	identities   map[uint64]string
}

// New creates an empty State.
func New() *State {
	return &State{
		identities: make(map[uint64]string),
	}
}

// Apply processes one event and returns the resulting notifications.
// Events must be applied in the order they were read. Apply never fails;
// anomalies such as duplicate disconnects degrade to no notification.
func (s *State) Apply(e event.Event) []Notification {
	if e == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := e.(type) {
	case event.PeerConnected:
		s.pendingPeers = append(s.pendingPeers, ev.PeerID)
		return s.reconcile(ev.Timestamp)

	case event.PeerRejected:
		s.pendingPeers = slices.DeleteFunc(s.pendingPeers, func(id uint64) bool {
			return id == ev.PeerID
		})
		return []Notification{{
			Type:      NotifyPeerRejected,
			Time:      ev.Timestamp,
			PeerID:    ev.PeerID,
			PeerKnown: true,
		}}

	case event.PeerDisconnected:
		name, ok := s.identities[ev.PeerID]
		if !ok {
			return nil
		}
		delete(s.identities, ev.PeerID)
		return []Notification{{
			Type:      NotifyPeerDisconnected,
			Time:      ev.Timestamp,
			PeerID:    ev.PeerID,
			PeerKnown: true,
			Character: name,
		}}

	case event.WorldPersisted:
		return []Notification{{
			Type:       NotifyWorldSaved,
			Time:       ev.Timestamp,
			DurationMS: ev.DurationMS,
		}}

	case event.CharacterActivated:
		// Respawn of a character that is already bound.
		if _, ok := s.lookup(ev.Character); ok {
			return nil
		}
		s.pendingChars = append(s.pendingChars, ev.Character)
		return s.reconcile(ev.Timestamp)

	case event.CharacterDeactivated:
		id, ok := s.lookup(ev.Character)
		return []Notification{{
			Type:      NotifyCharacterDied,
			Time:      ev.Timestamp,
			PeerID:    id,
			PeerKnown: ok,
			Character: ev.Character,
		}}

	default:
		return nil
	}
}

// reconcile pairs queue heads until one side runs out. Caller holds mu.
func (s *State) reconcile(ts time.Time) []Notification {
	var out []Notification
	for len(s.pendingPeers) > 0 && len(s.pendingChars) > 0 {
		id, name := s.pendingPeers[0], s.pendingChars[0]
		s.pendingPeers = s.pendingPeers[1:]
		s.pendingChars = s.pendingChars[1:]

		s.identities[id] = name
		out = append(out, Notification{
			Type:      NotifyPeerIdentified,
			Time:      ts,
			PeerID:    id,
			PeerKnown: true,
			Character: name,
		})
	}
	return out
}

// lookup finds the peer bound to name. Caller holds mu.
func (s *State) lookup(name string) (uint64, bool) {
	for id, n := range s.identities {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// PeerFor returns the peer bound to the named character.
// Safe for concurrent use.
func (s *State) PeerFor(name string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(name)
}

// Identities returns a copy of the identity table.
// Safe for concurrent use.
func (s *State) Identities() map[uint64]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]string, len(s.identities))
	for id, name := range s.identities {
		out[id] = name
	}
	return out
}

// PendingPeers returns a copy of the pending peer queue, oldest first.
func (s *State) PendingPeers() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pendingPeers)
}

// PendingCharacters returns a copy of the pending character queue, oldest first.
func (s *State) PendingCharacters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pendingChars)
}

// IdentityCount returns the number of identified peers.
func (s *State) IdentityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

// Snapshot returns a consistent copy of the whole state.
// Identities are sorted by peer id.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]Identity, 0, len(s.identities))
	for id, name := range s.identities {
		ids = append(ids, Identity{PeerID: id, Character: name})
	}
	slices.SortFunc(ids, func(a, b Identity) int {
		switch {
		case a.PeerID < b.PeerID:
			return -1
		case a.PeerID > b.PeerID:
			return 1
		default:
			return 0
		}
	})

	peers := slices.Clone(s.pendingPeers)
	if peers == nil {
		peers = []uint64{}
	}
	chars := slices.Clone(s.pendingChars)
	if chars == nil {
		chars = []string{}
	}

	return Snapshot{
		Identities:        ids,
		PendingPeers:      peers,
		PendingCharacters: chars,
	}
}
