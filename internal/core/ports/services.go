package ports

import (
	"context"

	"meshpad/internal/core/domain"
)

type RoomService interface {
	CreateRoom(ctx context.Context, id domain.SessionID, maxPeers int) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.SessionID) (*domain.Room, error)
	JoinRoom(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Room, error)
	LeaveRoom(ctx context.Context, id domain.SessionID, peerID domain.PeerID) (newHost domain.PeerID, err error)
	TouchPeer(ctx context.Context, id domain.SessionID, peerID domain.PeerID) error
	ListRooms(ctx context.Context) ([]*domain.Room, error)
	DeleteRoom(ctx context.Context, id domain.SessionID) error
	ReapStaleRooms(ctx context.Context) (int, error)
}

type AuthService interface {
	Login(ctx context.Context, username, password string) (string, error)
	ValidateToken(token string) (*TokenClaims, error)
}

type TokenClaims struct {
	Username string
	Role     domain.UserRole
}
