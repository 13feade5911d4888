package models

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Proposal is a ledger proposal decoded into named fields at the read
// boundary. IsActive is always the ledger's value and is never derived
// locally.
type Proposal struct {
	ID          uint64         `json:"id"`
	Creator     common.Address `json:"creator"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Deadline    int64          `json:"deadline"`
	CreatedAt   int64          `json:"createdAt"`
	IsActive    bool           `json:"isActive"`
}

func (p *Proposal) Validate() error {
	if p.ID == 0 {
		return errors.New("proposal id must be positive")
	}
	if p.Deadline <= p.CreatedAt {
		return errors.New("proposal deadline must be after creation time")
	}
	return nil
}

// IsCreator compares addresses, which is case-insensitive on the textual form.
func (p *Proposal) IsCreator(addr common.Address) bool {
	return p.Creator == addr
}

func (p *Proposal) DeadlineTime() time.Time {
	return time.Unix(p.Deadline, 0)
}

func (p *Proposal) CreatedTime() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// TimeRemaining is the time until the deadline, never negative.
func (p *Proposal) TimeRemaining(now time.Time) time.Duration {
	remaining := p.DeadlineTime().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
