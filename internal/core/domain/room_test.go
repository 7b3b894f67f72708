package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testRoom(maxPeers int) *Room {
	return &Room{
		SessionID: "session-1",
		MaxPeers:  maxPeers,
		CreatedAt: time.Now(),
	}
}

func TestRoom_AddParticipant(t *testing.T) {
	room := testRoom(4)
	err := room.AddParticipant(Participant{PeerID: "p1", Name: "Alice", IsHost: true, JoinedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(room.Participants) != 1 {
		t.Errorf("expected 1 participant, got %d", len(room.Participants))
	}
	if _, ok := room.Participant("p1"); !ok {
		t.Error("expected to find added participant")
	}
}

func TestRoom_AddParticipant_Duplicate(t *testing.T) {
	room := testRoom(4)
	_ = room.AddParticipant(Participant{PeerID: "p1"})

	err := room.AddParticipant(Participant{PeerID: "p1"})
	if !errors.Is(err, ErrPeerExists) {
		t.Errorf("expected ErrPeerExists, got %v", err)
	}
}

func TestRoom_AddParticipant_Full(t *testing.T) {
	room := testRoom(2)
	_ = room.AddParticipant(Participant{PeerID: "p1"})
	_ = room.AddParticipant(Participant{PeerID: "p2"})

	err := room.AddParticipant(Participant{PeerID: "p3"})
	if !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
	if len(room.Participants) != 2 {
		t.Errorf("expected room to stay at 2 participants, got %d", len(room.Participants))
	}
}

func TestRoom_RemoveParticipant(t *testing.T) {
	room := testRoom(4)
	_ = room.AddParticipant(Participant{PeerID: "p1", IsHost: true})
	_ = room.AddParticipant(Participant{PeerID: "p2"})
	room.HostPeerID = "p1"

	wasHost, err := room.RemoveParticipant("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wasHost {
		t.Error("expected host removal to be reported")
	}
	if room.HostPeerID != "" {
		t.Errorf("expected host cleared, got %s", room.HostPeerID)
	}

	if _, err := room.RemoveParticipant("missing"); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestRoom_PromoteHost_PicksLongestJoined(t *testing.T) {
	now := time.Now()
	room := testRoom(4)
	_ = room.AddParticipant(Participant{PeerID: "late", JoinedAt: now})
	_ = room.AddParticipant(Participant{PeerID: "early", JoinedAt: now.Add(-time.Minute)})

	newHost := room.PromoteHost()
	if newHost != "early" {
		t.Errorf("expected earliest joiner promoted, got %s", newHost)
	}

	p, _ := room.Participant("early")
	if !p.IsHost {
		t.Error("expected promoted participant to carry the host flag")
	}
	other, _ := room.Participant("late")
	if other.IsHost {
		t.Error("expected only one host")
	}
}

func TestRoom_PromoteHost_EmptyRoom(t *testing.T) {
	room := testRoom(4)
	if got := room.PromoteHost(); got != "" {
		t.Errorf("expected no host for empty room, got %s", got)
	}
	if !room.IsEmpty() {
		t.Error("expected empty room")
	}
}

func TestRoom_IsFull_UnlimitedWhenZero(t *testing.T) {
	room := testRoom(0)
	for i := 0; i < 100; i++ {
		_ = room.AddParticipant(Participant{PeerID: PeerID(fmt.Sprintf("p%d", i))})
	}
	if room.IsFull() {
		t.Error("expected max_peers 0 to mean unlimited")
	}
}
