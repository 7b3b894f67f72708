package memory

import (
	"context"
	"fmt"
	"sync"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.SessionID]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.SessionID]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.SessionID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrRoomExists, room.SessionID)
	}

	r.rooms[room.SessionID] = cloneRoom(room)
	return nil
}

func (r *MemoryRoomRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	return cloneRoom(room), nil
}

func (r *MemoryRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.SessionID]; !exists {
		return domain.ErrRoomNotFound
	}

	r.rooms[room.SessionID] = cloneRoom(room)
	return nil
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; !exists {
		return domain.ErrRoomNotFound
	}

	delete(r.rooms, id)
	return nil
}

func (r *MemoryRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, cloneRoom(room))
	}

	return rooms, nil
}

// cloneRoom keeps stored rooms isolated from caller mutation; the
// service edits the participant slice in place before calling Update.
func cloneRoom(room *domain.Room) *domain.Room {
	clone := *room
	clone.Participants = make([]domain.Participant, len(room.Participants))
	copy(clone.Participants, room.Participants)
	return &clone
}
