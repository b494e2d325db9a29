package proposal

import (
	"sync"
	"time"
)

// Registry holds live proposals for their approval cycle. Proposals are
// independent value objects; the registry only guards the map itself.
// Nothing here is persisted: an expired or finalized proposal is discarded.
type Registry struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
}

func NewRegistry() *Registry {
	return &Registry{proposals: make(map[string]*Proposal)}
}

func (r *Registry) Put(p *Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[p.ID] = p
}

func (r *Registry) Get(id string) (*Proposal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	return p, ok
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proposals, id)
}

// Sweep drops finalized and expired proposals and returns how many were
// removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, p := range r.proposals {
		if p.finalized() || now.After(p.ExpiresAt) {
			delete(r.proposals, id)
			removed++
		}
	}
	return removed
}
