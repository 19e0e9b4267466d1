package realtime

import (
	"sync"

	"akort/internal/models"
)

// presenceSet is the set of users currently believed online. It is written
// only by the owning transport's event handlers, last write wins.
type presenceSet struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func newPresenceSet() *presenceSet {
	return &presenceSet{online: make(map[string]struct{})}
}

func (p *presenceSet) apply(sc models.StatusChange) {
	if sc.UserID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sc.IsOnline {
		p.online[sc.UserID] = struct{}{}
	} else {
		delete(p.online, sc.UserID)
	}
}

func (p *presenceSet) contains(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

func (p *presenceSet) list() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}
