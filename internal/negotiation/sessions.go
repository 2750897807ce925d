package negotiation

import (
	"fmt"
	"sync"

	"github.com/dyike/CareMesh/models"
)

// Sessions indexes every session started by an orchestrator. Each session
// is written once, when it is created.
type Sessions struct {
	mu    sync.RWMutex
	byID  map[string]*models.Session
	order []string
}

func NewSessions() *Sessions {
	return &Sessions{byID: make(map[string]*models.Session)}
}

func (s *Sessions) Add(sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[sess.ID()]; dup {
		return fmt.Errorf("%w: duplicate session %s", models.ErrInvalidRequest, sess.ID())
	}
	s.byID[sess.ID()] = sess
	s.order = append(s.order, sess.ID())
	return nil
}

func (s *Sessions) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	return sess, nil
}

// List returns sessions in creation order.
func (s *Sessions) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Active counts sessions that have not reached a terminal status.
func (s *Sessions) Active() int {
	n := 0
	for _, sess := range s.List() {
		if !sess.Status().Terminal() {
			n++
		}
	}
	return n
}
