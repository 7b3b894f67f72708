package services

import (
	"context"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/cache"
)

const roomListKey = "all"

// CachedRoomService wraps a RoomService with read caching. Admin API
// reads hit the cache; every mutation invalidates the touched keys.
type CachedRoomService struct {
	base  ports.RoomService
	rooms *cache.Cache[*domain.Room]
	lists *cache.Cache[[]*domain.Room]
}

func NewCachedRoomService(base ports.RoomService, roomTTL time.Duration) *CachedRoomService {
	return &CachedRoomService{
		base:  base,
		rooms: cache.New[*domain.Room](roomTTL),
		lists: cache.New[[]*domain.Room](roomTTL),
	}
}

var _ ports.RoomService = (*CachedRoomService)(nil)

func (s *CachedRoomService) CreateRoom(ctx context.Context, id domain.SessionID, maxPeers int) (*domain.Room, error) {
	room, err := s.base.CreateRoom(ctx, id, maxPeers)
	if err != nil {
		return nil, err
	}
	s.lists.Delete(roomListKey)
	return room, nil
}

func (s *CachedRoomService) GetRoom(ctx context.Context, id domain.SessionID) (*domain.Room, error) {
	return s.rooms.GetOrLoad(ctx, string(id), func(ctx context.Context) (*domain.Room, error) {
		return s.base.GetRoom(ctx, id)
	})
}

func (s *CachedRoomService) JoinRoom(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Room, error) {
	room, err := s.base.JoinRoom(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.rooms.Delete(string(id))
	s.lists.Delete(roomListKey)
	return room, nil
}

func (s *CachedRoomService) LeaveRoom(ctx context.Context, id domain.SessionID, peerID domain.PeerID) (domain.PeerID, error) {
	newHost, err := s.base.LeaveRoom(ctx, id, peerID)
	if err != nil {
		return "", err
	}
	s.rooms.Delete(string(id))
	s.lists.Delete(roomListKey)
	return newHost, nil
}

// TouchPeer only refreshes presence, which no cached read serves, so
// nothing to invalidate.
func (s *CachedRoomService) TouchPeer(ctx context.Context, id domain.SessionID, peerID domain.PeerID) error {
	return s.base.TouchPeer(ctx, id, peerID)
}

func (s *CachedRoomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.lists.GetOrLoad(ctx, roomListKey, func(ctx context.Context) ([]*domain.Room, error) {
		return s.base.ListRooms(ctx)
	})
}

func (s *CachedRoomService) DeleteRoom(ctx context.Context, id domain.SessionID) error {
	if err := s.base.DeleteRoom(ctx, id); err != nil {
		return err
	}
	s.rooms.Delete(string(id))
	s.lists.Delete(roomListKey)
	return nil
}

func (s *CachedRoomService) ReapStaleRooms(ctx context.Context) (int, error) {
	evicted, err := s.base.ReapStaleRooms(ctx)
	if err != nil {
		return evicted, err
	}
	if evicted > 0 {
		s.rooms.Clear()
		s.lists.Clear()
	}
	return evicted, nil
}

func (s *CachedRoomService) Stop() {
	s.rooms.Stop()
	s.lists.Stop()
}
