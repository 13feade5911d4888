package service

import (
	"sync"
	"time"

	"zvote/models"
)

type cachedProposal struct {
	proposal *models.Proposal
	expires  time.Time
}

// viewCache holds recently read proposals. Entries expire after ttl and are
// dropped when a VoteCast event or a confirmed vote touches the proposal.
type viewCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uint64]cachedProposal
}

func newViewCache(ttl time.Duration, now func() time.Time) *viewCache {
	return &viewCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[uint64]cachedProposal),
	}
}

func (c *viewCache) get(id uint64) (*models.Proposal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	return entry.proposal, true
}

func (c *viewCache) put(p *models.Proposal) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.ID] = cachedProposal{proposal: p, expires: c.now().Add(c.ttl)}
}

func (c *viewCache) invalidate(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
