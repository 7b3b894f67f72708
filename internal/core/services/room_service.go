package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

type roomService struct {
	rooms      ports.RoomRepository
	presence   ports.PresenceRepository
	maxPeers   int
	staleAfter time.Duration
}

// NewRoomService builds the room registry used by the signaling server.
// maxPeers caps rooms created implicitly through JoinRoom; staleAfter is
// how long a silent peer survives before ReapStaleRooms evicts it.
func NewRoomService(
	rooms ports.RoomRepository,
	presence ports.PresenceRepository,
	maxPeers int,
	staleAfter time.Duration,
) ports.RoomService {
	if maxPeers <= 0 {
		maxPeers = 10
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &roomService{
		rooms:      rooms,
		presence:   presence,
		maxPeers:   maxPeers,
		staleAfter: staleAfter,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, id domain.SessionID, maxPeers int) (*domain.Room, error) {
	if id == "" {
		return nil, fmt.Errorf("create room: empty session id")
	}
	if existing, err := s.rooms.GetByID(ctx, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, err
	}

	if maxPeers <= 0 {
		maxPeers = s.maxPeers
	}
	room := &domain.Room{
		SessionID: id,
		MaxPeers:  maxPeers,
		CreatedAt: time.Now(),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, id domain.SessionID) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

// JoinRoom registers the participant, creating the room when it does not
// exist yet. The first participant in becomes host; later joiners never
// do, whatever their own claim was.
func (s *roomService) JoinRoom(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		room, err = s.CreateRoom(ctx, id, 0)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.JoinedAt = now
	p.LastSeen = now
	p.IsHost = room.IsEmpty()

	if err := room.AddParticipant(p); err != nil {
		return nil, err
	}
	if p.IsHost {
		room.HostPeerID = p.PeerID
	}

	if err := s.rooms.Update(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	if s.presence != nil {
		if err := s.presence.Touch(ctx, id, p.PeerID, now); err != nil {
			return nil, fmt.Errorf("failed to record presence: %w", err)
		}
	}
	return room, nil
}

// LeaveRoom removes the peer and deletes the room when it empties. When
// the host left a remaining room, the longest-joined participant is
// promoted and returned so callers can announce the change.
func (s *roomService) LeaveRoom(ctx context.Context, id domain.SessionID, peerID domain.PeerID) (domain.PeerID, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	wasHost, err := room.RemoveParticipant(peerID)
	if err != nil {
		return "", err
	}
	if s.presence != nil {
		// Presence cleanup is best effort; the room document is
		// already authoritative about membership.
		_ = s.presence.Remove(ctx, id, peerID)
	}

	if room.IsEmpty() {
		if err := s.rooms.Delete(ctx, id); err != nil {
			return "", fmt.Errorf("failed to delete empty room: %w", err)
		}
		return "", nil
	}

	var newHost domain.PeerID
	if wasHost {
		newHost = room.PromoteHost()
	}
	if err := s.rooms.Update(ctx, room); err != nil {
		return "", fmt.Errorf("failed to update room: %w", err)
	}
	return newHost, nil
}

func (s *roomService) TouchPeer(ctx context.Context, id domain.SessionID, peerID domain.PeerID) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Touch(ctx, id, peerID, time.Now())
}

func (s *roomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.rooms.List(ctx)
}

func (s *roomService) DeleteRoom(ctx context.Context, id domain.SessionID) error {
	return s.rooms.Delete(ctx, id)
}

// ReapStaleRooms evicts participants whose presence heartbeat is older
// than staleAfter and deletes rooms that empty out. Returns the number
// of peers evicted.
func (s *roomService) ReapStaleRooms(ctx context.Context) (int, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.staleAfter)
	evicted := 0

	for _, room := range rooms {
		var lastSeen map[domain.PeerID]time.Time
		if s.presence != nil {
			lastSeen, err = s.presence.LastSeen(ctx, room.SessionID)
			if err != nil {
				continue
			}
		}

		var stale []domain.PeerID
		for _, p := range room.Participants {
			seen := p.LastSeen
			if at, ok := lastSeen[p.PeerID]; ok {
				seen = at
			}
			if seen.Before(cutoff) {
				stale = append(stale, p.PeerID)
			}
		}
		if len(stale) == 0 {
			continue
		}

		for _, peerID := range stale {
			if _, err := s.LeaveRoom(ctx, room.SessionID, peerID); err != nil {
				if errors.Is(err, domain.ErrRoomNotFound) {
					break
				}
				continue
			}
			evicted++
		}
	}
	return evicted, nil
}
