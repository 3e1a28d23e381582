package app

import (
	"context"

	"github.com/graaaaa/valheim-watcher/internal/derive"
	"github.com/graaaaa/valheim-watcher/internal/event"
)

// StateUsecase defines the current state use case.
type StateUsecase interface {
	// GetCurrentState returns who is online and who is still unmatched.
	GetCurrentState(ctx context.Context) StateResult
}

// OnlinePeer is an identified peer.
type OnlinePeer struct {
	PeerID     string `json:"peer_id"`
	Character  string `json:"character"`
	ProfileURL string `json:"profile_url"`
}

// StateResult represents the current state response.
// Peer ids are strings: Steam ids do not fit in a JSON number.
type StateResult struct {
	Online            []OnlinePeer `json:"online"`
	PendingPeers      []string     `json:"pending_peers"`
	PendingCharacters []string     `json:"pending_characters"`
}

// StateService implements StateUsecase by wrapping derive.State.
type StateService struct {
	State *derive.State
}

// GetCurrentState returns the identity table and both pending queues.
func (s StateService) GetCurrentState(ctx context.Context) StateResult {
	snap := s.State.Snapshot()

	res := StateResult{
		Online:            make([]OnlinePeer, 0, len(snap.Identities)),
		PendingPeers:      make([]string, 0, len(snap.PendingPeers)),
		PendingCharacters: snap.PendingCharacters,
	}
	for _, id := range snap.Identities {
		peer := event.FormatPeerID(id.PeerID)
		res.Online = append(res.Online, OnlinePeer{
			PeerID:     peer,
			Character:  id.Character,
			ProfileURL: "https://steamcommunity.com/profiles/" + peer,
		})
	}
	for _, id := range snap.PendingPeers {
		res.PendingPeers = append(res.PendingPeers, event.FormatPeerID(id))
	}
	return res
}
