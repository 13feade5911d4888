package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type inflightKey struct {
	proposalID uint64
	voter      common.Address
}

// inflightGuard admits one vote attempt per (proposal, voter) at a time.
type inflightGuard struct {
	mu     sync.Mutex
	active map[inflightKey]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[inflightKey]struct{})}
}

func (g *inflightGuard) acquire(key inflightKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g *inflightGuard) release(key inflightKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

func (g *inflightGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
