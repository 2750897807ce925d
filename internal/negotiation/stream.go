package negotiation

import (
	"sync"

	"github.com/dyike/CareMesh/models"
)

// stream hands events from the session driver to a single consumer. The
// driver never blocks: events queue up until the consumer reads them, and
// are dropped once the consumer detaches.
type stream struct {
	mu       sync.Mutex
	queue    []models.Event
	finished bool
	detached bool

	out    chan models.Event
	wake   chan struct{}
	quit   chan struct{}
	detach sync.Once
}

func newStream() *stream {
	s := &stream{
		out:  make(chan models.Event),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *stream) push(ev models.Event) {
	s.mu.Lock()
	if s.detached || s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// finish marks the end of production. Queued events are still delivered.
func (s *stream) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

// close detaches the consumer. Production continues and is discarded.
func (s *stream) close() {
	s.detach.Do(func() { close(s.quit) })
}

func (s *stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				s.drop()
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			s.drop()
			return
		}
	}
}

func (s *stream) drop() {
	s.mu.Lock()
	s.detached = true
	s.queue = nil
	s.mu.Unlock()
}
