package session

import (
	"sync"

	"github.com/linchenxuan/slingshot/network/peer"
)

// admission holds one slot per admitted peer until all of its links are gone. It is consulted
// from handshake goroutines, so the check and the reservation happen under one lock.
type admission struct {
	mu   sync.Mutex
	max  int             // Distinct peers allowed
	held map[peer.ID]int // Live reservations per peer; a reconnect briefly holds two
}

func newAdmission(max int) *admission {
	return &admission{max: max, held: make(map[peer.ID]int)}
}

// reserve takes a slot for id. A peer that already holds one may reconnect while the game is full.
func (a *admission) reserve(id peer.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held[id] == 0 && len(a.held) >= a.max {
		return ErrSessionFull
	}
	a.held[id]++
	return nil
}

// release drops one reservation of id. Releasing an id without reservations does nothing.
func (a *admission) release(id peer.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch n := a.held[id]; {
	case n > 1:
		a.held[id] = n - 1
	case n == 1:
		delete(a.held, id)
	}
}

// count returns the number of distinct peers holding a slot.
func (a *admission) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
