// Package ledger defines how the client reads and writes the voting contract
// and provides a go-ethereum binding for it.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"zvote/codec"
	"zvote/models"
)

// DefaultGasLimit is the explicit gas ceiling for contract writes.
const DefaultGasLimit uint64 = 5_000_000

const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
}

func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccessful
}

// EncryptedVotes holds the two tally handles of a proposal.
type EncryptedVotes struct {
	Yes codec.Handle
	No  codec.Handle
}

// VoteCastEvent is emitted for every accepted vote. Only the proposal id is
// meaningful to the client.
type VoteCastEvent struct {
	ProposalID uint64
	Voter      common.Address
	TxHash     common.Hash
}

// Reader is the read side of the voting contract.
type Reader interface {
	Address() common.Address
	ProposalCount(ctx context.Context) (uint64, error)
	GetAllProposals(ctx context.Context) ([]uint64, error)
	GetProposal(ctx context.Context, id uint64) (*models.Proposal, error)
	CheckIfVoted(ctx context.Context, id uint64, voter common.Address) (bool, error)
	// GetEncryptedVotes is evaluated as from; the contract only answers the
	// proposal creator.
	GetEncryptedVotes(ctx context.Context, id uint64, from common.Address) (*EncryptedVotes, error)
}

// Writer submits transactions signed by a single account.
type Writer interface {
	From() common.Address
	CreateProposal(ctx context.Context, title, description string, duration time.Duration) (common.Hash, error)
	CastVote(ctx context.Context, id uint64, input *models.EncryptedVoteInput) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash) (*Receipt, error)
}

type EventSource interface {
	SubscribeVoteCast(ctx context.Context, sink chan<- *VoteCastEvent) (event.Subscription, error)
}

// Ledger is everything the client needs that does not require a signer.
type Ledger interface {
	Reader
	EventSource
}
