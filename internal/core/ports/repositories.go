package ports

import (
	"context"
	"time"

	"meshpad/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]*domain.Room, error)
}

// PresenceRepository tracks per-peer liveness heartbeats separately from
// room membership so high-frequency touches never rewrite the room
// document.
type PresenceRepository interface {
	Touch(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID, at time.Time) error
	LastSeen(ctx context.Context, sessionID domain.SessionID) (map[domain.PeerID]time.Time, error)
	Remove(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error
}
