package ports

import (
	"context"
	"encoding/json"

	"meshpad/internal/core/domain"
)

// PeerSummary is one roster entry delivered with room-state.
type PeerSummary struct {
	PeerID domain.PeerID
	Name   string
	IsHost bool
}

// Signaler is the rendezvous client. It only carries the handshake;
// once a peer channel is open no application data flows through it.
// Each On* setter registers at most one handler, replacing any
// previous one.
type Signaler interface {
	// Connect joins the room and blocks until the server confirms the
	// join, the room rejects as full, or the timeout elapses.
	Connect(ctx context.Context, sessionID domain.SessionID, isHost bool, displayName string) error
	// Disconnect sends a best-effort leave and tears the transport
	// down. Safe to call repeatedly.
	Disconnect()
	Connected() bool
	LocalPeerID() domain.PeerID
	Session() domain.SignalingSession

	// Send helpers return false without enqueueing when the transport
	// is not connected. An empty target broadcasts to the room.
	SendOffer(payload json.RawMessage, target domain.PeerID) bool
	SendAnswer(payload json.RawMessage, target domain.PeerID) bool
	SendICECandidate(payload json.RawMessage, target domain.PeerID) bool

	OnOffer(fn func(payload json.RawMessage, from domain.PeerID))
	OnAnswer(fn func(payload json.RawMessage, from domain.PeerID))
	OnICECandidate(fn func(payload json.RawMessage, from domain.PeerID))
	OnPeerJoined(fn func(peerID domain.PeerID, name string))
	OnPeerLeft(fn func(peerID domain.PeerID))
	OnRoomFull(fn func())
	OnHostChanged(fn func(hostID domain.PeerID))
	OnRoomState(fn func(peers []PeerSummary))
	OnConnected(fn func())
	OnDisconnected(fn func(reason string))
	OnError(fn func(err error))
}

// MessageSender is how sync handlers push outbound messages. Broadcast
// reports true when at least one open channel accepted the message;
// SendTo reports false when the peer has no open channel.
type MessageSender interface {
	Broadcast(msg domain.Message) bool
	SendTo(peerID domain.PeerID, msg domain.Message) bool
}

// PeerChannel is one open duplex data channel to a remote peer.
type PeerChannel interface {
	PeerID() domain.PeerID
	// Send encodes and enqueues the message, returning false when the
	// channel is not open.
	Send(msg domain.Message) bool
	// OnMessage registers the inbound delivery callback. Payloads are
	// delivered undecoded in transport arrival order; decoding and the
	// handling of malformed bytes belong to the router.
	OnMessage(fn func(data []byte))
	OnClose(fn func(err error))
	Close() error
}

// PeerConnector drives the offer/answer/candidate dance for peer links.
// The orchestrator feeds it signaling events; it reports link progress
// through the LinkEvents sink it was constructed with. Close tears a
// link down without reporting OnChannelClosed, so a deliberate
// teardown is never mistaken for a drop.
type PeerConnector interface {
	CreateOffer(ctx context.Context, peerID domain.PeerID) (json.RawMessage, error)
	HandleOffer(ctx context.Context, peerID domain.PeerID, offer json.RawMessage) (json.RawMessage, error)
	HandleAnswer(ctx context.Context, peerID domain.PeerID, answer json.RawMessage) error
	AddICECandidate(ctx context.Context, peerID domain.PeerID, candidate json.RawMessage) error
	Channel(peerID domain.PeerID) (PeerChannel, bool)
	Close(peerID domain.PeerID) error
	CloseAll()
}

// LinkEvents is the sink a PeerConnector reports transport-level link
// activity into. Implemented by the session orchestrator, which routes
// each event to the owning link tracker. Candidate payloads arrive in
// wire form, ready to relay through the signaler.
type LinkEvents interface {
	OnLocalCandidate(peerID domain.PeerID, candidate json.RawMessage)
	OnChannelOpen(peerID domain.PeerID, ch PeerChannel)
	OnChannelClosed(peerID domain.PeerID, err error)
	OnSelectedPair(peerID domain.PeerID, local, remote domain.CandidateType)
	OnStats(peerID domain.PeerID, metrics domain.LinkMetrics)
}
