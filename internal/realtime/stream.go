package realtime

import "sync"

// Stream is a small replayable publish/subscribe primitive. New
// subscribers immediately receive the most recent published value, so
// consumers can subscribe once and survive reconnection transparently.
// Publishing never blocks: a subscriber whose buffer is full misses
// the value (the next full snapshot supersedes it anyway).
type Stream[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	last    T
	hasLast bool
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel and a detach function. The
// buffer must be at least 1 so the replayed value always fits.
func (s *Stream[T]) Subscribe(buf int) (<-chan T, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan T, buf)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.hasLast {
		ch <- s.last
	}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	s.last = v
	s.hasLast = true
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
	s.mu.Unlock()
}

// Last returns the most recent value, if any.
func (s *Stream[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Reset clears the replay value. Existing subscribers stay attached.
func (s *Stream[T]) Reset() {
	s.mu.Lock()
	var zero T
	s.last = zero
	s.hasLast = false
	s.mu.Unlock()
}
