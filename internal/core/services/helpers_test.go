package services

import (
	"sync"

	"meshpad/internal/core/domain"
)

// fakeSender captures outbound traffic for assertions. Zero value is
// a sender where every delivery succeeds.
type fakeSender struct {
	mu         sync.Mutex
	broadcasts []domain.Message
	sends      map[domain.PeerID][]domain.Message

	failBroadcast bool
	failSendTo    bool
}

func (f *fakeSender) Broadcast(msg domain.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBroadcast {
		return false
	}
	f.broadcasts = append(f.broadcasts, msg)
	return true
}

func (f *fakeSender) SendTo(peerID domain.PeerID, msg domain.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSendTo {
		return false
	}
	if f.sends == nil {
		f.sends = make(map[domain.PeerID][]domain.Message)
	}
	f.sends[peerID] = append(f.sends[peerID], msg)
	return true
}

func (f *fakeSender) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeSender) lastBroadcast() (domain.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return domain.Message{}, false
	}
	return f.broadcasts[len(f.broadcasts)-1], true
}

func (f *fakeSender) sentTo(peerID domain.PeerID) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Message, len(f.sends[peerID]))
	copy(out, f.sends[peerID])
	return out
}

func (f *fakeSender) broadcastsOfType(mt domain.MessageType) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.broadcasts {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}
