package memory

import (
	"context"
	"sync"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
)

type MemoryPresenceRepository struct {
	seen map[domain.SessionID]map[domain.PeerID]time.Time
	mu   sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		seen: make(map[domain.SessionID]map[domain.PeerID]time.Time),
	}
}

func (r *MemoryPresenceRepository) Touch(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, exists := r.seen[sessionID]
	if !exists {
		peers = make(map[domain.PeerID]time.Time)
		r.seen[sessionID] = peers
	}
	peers[peerID] = at
	return nil
}

func (r *MemoryPresenceRepository) LastSeen(ctx context.Context, sessionID domain.SessionID) (map[domain.PeerID]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := r.seen[sessionID]
	out := make(map[domain.PeerID]time.Time, len(peers))
	for id, at := range peers {
		out[id] = at
	}
	return out, nil
}

func (r *MemoryPresenceRepository) Remove(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, exists := r.seen[sessionID]
	if !exists {
		return nil
	}
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(r.seen, sessionID)
	}
	return nil
}
