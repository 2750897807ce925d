package agents

import (
	"fmt"

	"github.com/dyike/CareMesh/internal/oracle"
	"github.com/dyike/CareMesh/models"
)

// Registry holds the agent pool. It is filled once and read-only after.
type Registry struct {
	agents map[string]*Agent
	order  []string
}

func NewRegistry(agents ...*Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if _, dup := r.agents[a.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate agent %s", models.ErrInvalidRequest, a.ID())
		}
		r.agents[a.ID()] = a
		r.order = append(r.order, a.ID())
	}
	return r, nil
}

// BuildRegistry creates one agent per profile, all sharing o.
func BuildRegistry(profiles []models.HospitalProfile, o oracle.Oracle) (*Registry, error) {
	list := make([]*Agent, 0, len(profiles))
	for _, p := range profiles {
		a, err := New(p, o)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return NewRegistry(list...)
}

func (r *Registry) Get(id string) (*Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", models.ErrNotFound, id)
	}
	return a, nil
}

func (r *Registry) Len() int { return len(r.order) }

// List returns agents in registration order.
func (r *Registry) List() []*Agent {
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Participants returns every agent except the initiator, in registration
// order.
func (r *Registry) Participants(initiator string) []*Agent {
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		if id != initiator {
			out = append(out, r.agents[id])
		}
	}
	return out
}

func (r *Registry) Summaries() map[string]models.AgentSummary {
	out := make(map[string]models.AgentSummary, len(r.order))
	for _, id := range r.order {
		out[id] = r.agents[id].Summary()
	}
	return out
}
