package page

import "sync"

// listenerSet keeps callbacks in registration order.
type listenerSet[T any] struct {
	mu     sync.Mutex
	nextID int
	items  []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id int
	fn T
}

func (s *listenerSet[T]) add(fn T) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.items = append(s.items, listenerEntry[T]{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, it := range s.items {
			if it.id == id {
				s.items = append(s.items[:i], s.items[i+1:]...)
				return
			}
		}
	}
}

func (s *listenerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	for i, it := range s.items {
		out[i] = it.fn
	}
	return out
}

func (s *listenerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
