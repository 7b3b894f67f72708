package services

import "sync"

// subscription fans state snapshots out to registered listeners. Each
// sync store embeds one; handlers are the only writers, subscribers
// only ever see value copies.
type subscription[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func (s *subscription[T]) add(fn func(T)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return id
}

func (s *subscription[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

func (s *subscription[T]) notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
