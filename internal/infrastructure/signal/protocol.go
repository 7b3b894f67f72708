package signal

import (
	"encoding/json"

	"meshpad/internal/core/domain"
)

// Envelope is the one JSON frame exchanged over the signaling socket.
// Fields are sparse; which ones are populated depends on Type.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// join, joined-room
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	IsHost    bool             `json:"isHost,omitempty"`
	Name      string           `json:"name,omitempty"`

	// joined-room, peer-joined, peer-left
	PeerID domain.PeerID `json:"peerId,omitempty"`

	// offer, answer, ice-candidate
	Payload json.RawMessage `json:"payload,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	Target  domain.PeerID   `json:"target,omitempty"`

	// room-state
	Peers []RosterEntry `json:"peers,omitempty"`

	// host-changed
	HostPeerID domain.PeerID `json:"hostPeerId,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type RosterEntry struct {
	PeerID domain.PeerID `json:"peerId"`
	Name   string        `json:"name"`
	IsHost bool          `json:"isHost"`
}

type EnvelopeType string

const (
	// Client to server.
	EnvelopeJoin  EnvelopeType = "join"
	EnvelopeLeave EnvelopeType = "leave"

	// Both directions; the server stamps From and routes by Target.
	EnvelopeOffer        EnvelopeType = "offer"
	EnvelopeAnswer       EnvelopeType = "answer"
	EnvelopeICECandidate EnvelopeType = "ice-candidate"

	// Server to client.
	EnvelopeJoinedRoom     EnvelopeType = "joined-room"
	EnvelopeRoomFull       EnvelopeType = "room-full"
	EnvelopePeerJoined     EnvelopeType = "peer-joined"
	EnvelopePeerLeft       EnvelopeType = "peer-left"
	EnvelopeRoomState      EnvelopeType = "room-state"
	EnvelopeHostChanged    EnvelopeType = "host-changed"
	EnvelopeError          EnvelopeType = "error"
	EnvelopeServerShutdown EnvelopeType = "server-shutdown"
)

// relayable reports whether the type is a handshake envelope the server
// forwards between peers rather than interprets.
func (t EnvelopeType) relayable() bool {
	return t == EnvelopeOffer || t == EnvelopeAnswer || t == EnvelopeICECandidate
}
