package domain

import "time"

type SessionID string
type PeerID string

// Room is one collaborative session tracked by the signaling side.
// The room is authoritative for membership and host assignment only;
// application state lives on the peers themselves.
type Room struct {
	SessionID    SessionID
	HostPeerID   PeerID
	MaxPeers     int
	CreatedAt    time.Time
	Participants []Participant
}

type Participant struct {
	PeerID   PeerID
	Name     string
	IsHost   bool
	JoinedAt time.Time
	LastSeen time.Time
}

// IsFull reports whether another participant can still join.
func (r *Room) IsFull() bool {
	return r.MaxPeers > 0 && len(r.Participants) >= r.MaxPeers
}

func (r *Room) Participant(id PeerID) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].PeerID == id {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

func (r *Room) AddParticipant(p Participant) error {
	if _, ok := r.Participant(p.PeerID); ok {
		return ErrPeerExists
	}
	if r.IsFull() {
		return ErrRoomFull
	}
	r.Participants = append(r.Participants, p)
	return nil
}

// RemoveParticipant drops the peer and reports whether the host left,
// in which case the caller is expected to promote a new host.
func (r *Room) RemoveParticipant(id PeerID) (wasHost bool, err error) {
	for i := range r.Participants {
		if r.Participants[i].PeerID != id {
			continue
		}
		wasHost = r.Participants[i].IsHost
		r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
		if wasHost {
			r.HostPeerID = ""
		}
		return wasHost, nil
	}
	return false, ErrPeerNotFound
}

// PromoteHost makes the longest-joined remaining participant the host.
// Returns the new host id, or "" if the room is empty.
func (r *Room) PromoteHost() PeerID {
	if len(r.Participants) == 0 {
		r.HostPeerID = ""
		return ""
	}
	oldest := 0
	for i := range r.Participants {
		r.Participants[i].IsHost = false
		if r.Participants[i].JoinedAt.Before(r.Participants[oldest].JoinedAt) {
			oldest = i
		}
	}
	r.Participants[oldest].IsHost = true
	r.HostPeerID = r.Participants[oldest].PeerID
	return r.HostPeerID
}

func (r *Room) IsEmpty() bool {
	return len(r.Participants) == 0
}
