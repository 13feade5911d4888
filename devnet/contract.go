package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"zvote/codec"
	"zvote/ledger"
	"zvote/models"
	"zvote/voteerr"
)

// DefaultContractAddress is where the devnet voting contract lives.
var DefaultContractAddress = common.HexToAddress("0x00000000000000000000000000000000000C0DE5")

var (
	errProposalInactive = errors.New("proposal is not active")
	errDeadlinePassed   = errors.New("voting period has ended")
	errAlreadyVoted     = errors.New("already voted")
	errNotCreator       = errors.New("only the creator can close before the deadline")
)

type proposalState struct {
	proposal models.Proposal
	yes      codec.Handle
	no       codec.Handle
	voters   map[common.Address]bool
}

// Contract is the devnet voting contract. It satisfies ledger.Ledger and
// hands out ledger.Writer accounts.
type Contract struct {
	address common.Address
	network *Network
	chain   *Chain
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.RWMutex
	proposals map[uint64]*proposalState
	nextID    uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

type ContractOptionFunc func(*Contract)

func WithContractAddress(addr common.Address) ContractOptionFunc {
	return func(c *Contract) {
		c.address = addr
	}
}

func WithContractClock(now func() time.Time) ContractOptionFunc {
	return func(c *Contract) {
		c.now = now
	}
}

func WithContractLogger(logger *slog.Logger) ContractOptionFunc {
	return func(c *Contract) {
		c.logger = logger
	}
}

func NewContract(network *Network, opts ...ContractOptionFunc) *Contract {
	c := &Contract{
		address:   DefaultContractAddress,
		network:   network,
		now:       time.Now,
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		proposals: make(map[uint64]*proposalState),
		nextID:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.chain = NewChain(c.now)
	return c
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) Chain() *Chain {
	return c.chain
}

func (c *Contract) ProposalCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, voteerr.New(voteerr.KindTransportFailure, "proposalCount", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.proposals)), nil
}

func (c *Contract) GetAllProposals(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getAllProposals", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uint64, 0, len(c.proposals))
	for id := range c.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (c *Contract) GetProposal(ctx context.Context, id uint64) (*models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getProposal", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.proposals[id]
	if !ok {
		return nil, voteerr.Newf(voteerr.KindProposalNotFound, "getProposal", "proposal %d does not exist", id)
	}
	p := st.proposal
	return &p, nil
}

func (c *Contract) CheckIfVoted(ctx context.Context, id uint64, voter common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, voteerr.New(voteerr.KindTransportFailure, "checkIfVoted", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.proposals[id]
	if !ok {
		return false, nil
	}
	return st.voters[voter], nil
}

func (c *Contract) GetEncryptedVotes(ctx context.Context, id uint64, from common.Address) (*ledger.EncryptedVotes, error) {
	if err := ctx.Err(); err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getEncryptedVotes", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.proposals[id]
	if !ok {
		return nil, voteerr.Newf(voteerr.KindProposalNotFound, "getEncryptedVotes", "proposal %d does not exist", id)
	}
	if st.proposal.Creator != from {
		return nil, voteerr.Newf(voteerr.KindUnauthorized, "getEncryptedVotes", "only the creator can read the tally handles")
	}
	return &ledger.EncryptedVotes{Yes: st.yes, No: st.no}, nil
}

func (c *Contract) SubscribeVoteCast(_ context.Context, sink chan<- *ledger.VoteCastEvent) (event.Subscription, error) {
	return c.scope.Track(c.feed.Subscribe(sink)), nil
}

// Close ends every subscription.
func (c *Contract) Close() {
	c.scope.Close()
}

// CloseExpired closes every active proposal whose deadline has passed and
// returns their ids.
func (c *Contract) CloseExpired() []uint64 {
	now := c.now().Unix()
	c.mu.RLock()
	var expired []uint64
	for id, st := range c.proposals {
		if st.proposal.IsActive && st.proposal.Deadline <= now {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	closed := make([]uint64, 0, len(expired))
	for _, id := range expired {
		receipt := c.execute(common.Address{}, "closeProposal", id, func() error {
			return c.closeLocked(common.Address{}, id, true)
		})
		if receipt.Succeeded() {
			closed = append(closed, id)
		}
	}
	return closed
}

// Run closes expired proposals every interval until ctx is done.
func (c *Contract) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := c.CloseExpired(); len(ids) > 0 {
				c.logger.Info("closed expired proposals", "component", "devnet", "ids", ids)
			}
		}
	}
}

// execute runs fn under the state lock and records the outcome on the chain.
// A failing fn leaves state untouched and yields a reverted receipt.
func (c *Contract) execute(from common.Address, method string, proposalID uint64, fn func() error) *ledger.Receipt {
	c.mu.Lock()
	err := fn()
	c.mu.Unlock()

	tx := Transaction{
		From:       from,
		Method:     method,
		ProposalID: proposalID,
		Status:     ledger.ReceiptStatusSuccessful,
	}
	if err != nil {
		tx.Status = ledger.ReceiptStatusFailed
		tx.Error = err.Error()
	}
	receipt := c.chain.Commit(tx)
	if err != nil {
		c.logger.Warn("transaction reverted",
			"component", "devnet",
			"method", method,
			"proposal_id", proposalID,
			"from", from.Hex(),
			"error", err,
		)
	} else {
		c.logger.Debug("transaction executed",
			"component", "devnet",
			"method", method,
			"proposal_id", proposalID,
			"tx", receipt.TxHash.Hex(),
		)
	}
	return receipt
}

func (c *Contract) closeLocked(from common.Address, id uint64, expiredOnly bool) error {
	st, ok := c.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %d does not exist", id)
	}
	if !st.proposal.IsActive {
		return errProposalInactive
	}
	pastDeadline := c.now().Unix() >= st.proposal.Deadline
	if expiredOnly && !pastDeadline {
		return errProposalInactive
	}
	if !pastDeadline && st.proposal.Creator != from {
		return errNotCreator
	}
	st.proposal.IsActive = false
	return nil
}

func (c *Contract) createLocked(from common.Address, title, description string, duration int64) (uint64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, errors.New("title is required")
	}
	if duration <= 0 {
		return 0, errors.New("duration must be positive")
	}
	zeroYes, err := c.network.TrivialEncrypt(0)
	if err != nil {
		return 0, err
	}
	zeroNo, err := c.network.TrivialEncrypt(0)
	if err != nil {
		return 0, err
	}
	c.network.Allow(zeroYes, c.address, from)
	c.network.Allow(zeroNo, c.address, from)

	now := c.now().Unix()
	id := c.nextID
	c.nextID++
	c.proposals[id] = &proposalState{
		proposal: models.Proposal{
			ID:          id,
			Creator:     from,
			Title:       title,
			Description: description,
			Deadline:    now + duration,
			CreatedAt:   now,
			IsActive:    true,
		},
		yes:    zeroYes,
		no:     zeroNo,
		voters: make(map[common.Address]bool),
	}
	return id, nil
}

func (c *Contract) castLocked(from common.Address, id uint64, input *models.EncryptedVoteInput) error {
	st, ok := c.proposals[id]
	if !ok {
		return fmt.Errorf("proposal %d does not exist", id)
	}
	if !st.proposal.IsActive {
		return errProposalInactive
	}
	if c.now().Unix() >= st.proposal.Deadline {
		return errDeadlinePassed
	}
	if st.voters[from] {
		return errAlreadyVoted
	}
	if err := c.network.VerifyInputProof(input.Handle, c.address, from, input.Proof); err != nil {
		return err
	}
	if !c.network.IsAllowed(input.Handle, c.address) {
		return fmt.Errorf("%w: contract may not use input", ErrNotAllowed)
	}

	// yes += v; no += 1 - v
	one, err := c.network.TrivialEncrypt(1)
	if err != nil {
		return err
	}
	notVote, err := c.network.Sub(one, input.Handle)
	if err != nil {
		return err
	}
	yes, err := c.network.Add(st.yes, input.Handle)
	if err != nil {
		return err
	}
	no, err := c.network.Add(st.no, notVote)
	if err != nil {
		return err
	}
	c.network.Allow(yes, c.address, st.proposal.Creator)
	c.network.Allow(no, c.address, st.proposal.Creator)

	st.yes, st.no = yes, no
	st.voters[from] = true
	return nil
}

// Account is a ledger.Writer acting as from.
type Account struct {
	contract *Contract
	from     common.Address
}

func (c *Contract) Writer(from common.Address) *Account {
	return &Account{contract: c, from: from}
}

func (a *Account) From() common.Address {
	return a.from
}

func (a *Account) CreateProposal(ctx context.Context, title, description string, duration time.Duration) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, voteerr.New(voteerr.KindTransportFailure, "createProposal", err)
	}
	var id uint64
	receipt := a.contract.execute(a.from, "createProposal", 0, func() error {
		var err error
		id, err = a.contract.createLocked(a.from, title, description, int64(duration/time.Second))
		return err
	})
	if receipt.Succeeded() {
		a.contract.logger.Info("proposal created",
			"component", "devnet",
			"proposal_id", id,
			"creator", a.from.Hex(),
		)
	}
	return receipt.TxHash, nil
}

func (a *Account) CastVote(ctx context.Context, id uint64, input *models.EncryptedVoteInput) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, voteerr.New(voteerr.KindTransportFailure, "castVote", err)
	}
	if input == nil {
		return common.Hash{}, voteerr.Newf(voteerr.KindTransportFailure, "castVote", "missing encrypted input")
	}
	receipt := a.contract.execute(a.from, "castVote", id, func() error {
		return a.contract.castLocked(a.from, id, input)
	})
	if receipt.Succeeded() {
		a.contract.feed.Send(&ledger.VoteCastEvent{
			ProposalID: id,
			Voter:      a.from,
			TxHash:     receipt.TxHash,
		})
	}
	return receipt.TxHash, nil
}

// CloseProposal ends voting. The creator may close at any time, anyone else
// only after the deadline.
func (a *Account) CloseProposal(ctx context.Context, id uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, voteerr.New(voteerr.KindTransportFailure, "closeProposal", err)
	}
	receipt := a.contract.execute(a.from, "closeProposal", id, func() error {
		return a.contract.closeLocked(a.from, id, false)
	})
	return receipt.TxHash, nil
}

func (a *Account) WaitConfirmed(ctx context.Context, txHash common.Hash) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "waitConfirmed", err)
	}
	receipt, ok := a.contract.chain.Receipt(txHash)
	if !ok {
		return nil, voteerr.Newf(voteerr.KindTransportFailure, "waitConfirmed", "unknown transaction %s", txHash.Hex())
	}
	return receipt, nil
}
