package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"

	"zvote/models"
	"zvote/voteerr"
)

// Backend is what the binding needs from a node connection. ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Contract talks to a deployed voting contract through go-ethereum's
// abi/bind machinery.
type Contract struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	backend Backend
	logger  *slog.Logger
}

type ContractOptionFunc func(*Contract)

func WithContractLogger(logger *slog.Logger) ContractOptionFunc {
	return func(c *Contract) {
		c.logger = logger
	}
}

func NewContract(address common.Address, backend Backend, opts ...ContractOptionFunc) (*Contract, error) {
	parsed, err := ParseVotingABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	c := &Contract{
		address: address,
		abi:     parsed,
		backend: backend,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to rpcURL and binds the contract at address.
func Dial(ctx context.Context, rpcURL string, address common.Address, opts ...ContractOptionFunc) (*Contract, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, voteerr.New(voteerr.KindTransportFailure, "dial", err)
	}
	c, err := NewContract(address, client, opts...)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client, nil
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) call(ctx context.Context, from common.Address, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := c.bound.Call(opts, &out, method, params...); err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, method, err)
	}
	return out, nil
}

func (c *Contract) ProposalCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, common.Address{}, "proposalCount")
	if err != nil {
		return 0, err
	}
	n, err := decodeUint64(out, "proposalCount")
	if err != nil {
		return 0, voteerr.New(voteerr.KindTransportFailure, "proposalCount", err)
	}
	return n, nil
}

func (c *Contract) GetAllProposals(ctx context.Context) ([]uint64, error) {
	out, err := c.call(ctx, common.Address{}, "getAllProposals")
	if err != nil {
		return nil, err
	}
	ids, err := DecodeProposalIDs(out)
	if err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getAllProposals", err)
	}
	return ids, nil
}

func (c *Contract) GetProposal(ctx context.Context, id uint64) (*models.Proposal, error) {
	out, err := c.call(ctx, common.Address{}, "getProposal", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	p, err := DecodeProposal(out)
	if err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getProposal", err)
	}
	if p.ID == 0 {
		return nil, voteerr.Newf(voteerr.KindProposalNotFound, "getProposal", "proposal %d does not exist", id)
	}
	return p, nil
}

func (c *Contract) CheckIfVoted(ctx context.Context, id uint64, voter common.Address) (bool, error) {
	out, err := c.call(ctx, common.Address{}, "checkIfVoted", new(big.Int).SetUint64(id), voter)
	if err != nil {
		return false, err
	}
	voted, err := decodeBool(out, "checkIfVoted")
	if err != nil {
		return false, voteerr.New(voteerr.KindTransportFailure, "checkIfVoted", err)
	}
	return voted, nil
}

func (c *Contract) GetEncryptedVotes(ctx context.Context, id uint64, from common.Address) (*EncryptedVotes, error) {
	out, err := c.call(ctx, from, "getEncryptedVotes", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	votes, err := DecodeEncryptedVotes(out)
	if err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "getEncryptedVotes", err)
	}
	return votes, nil
}

type voteCastLog struct {
	ProposalId *big.Int //nolint:revive // matches the ABI argument name
	Voter      common.Address
}

// DecodeVoteCast unpacks a raw VoteCast log.
func (c *Contract) DecodeVoteCast(log types.Log) (*VoteCastEvent, error) {
	ev := new(voteCastLog)
	if err := c.bound.UnpackLog(ev, "VoteCast", log); err != nil {
		return nil, err
	}
	if ev.ProposalId == nil || !ev.ProposalId.IsUint64() {
		return nil, fmt.Errorf("%w: VoteCast proposal id", ErrUnexpectedOutput)
	}
	return &VoteCastEvent{
		ProposalID: ev.ProposalId.Uint64(),
		Voter:      ev.Voter,
		TxHash:     log.TxHash,
	}, nil
}

func (c *Contract) SubscribeVoteCast(ctx context.Context, sink chan<- *VoteCastEvent) (event.Subscription, error) {
	logs, sub, err := c.bound.WatchLogs(&bind.WatchOpts{Context: ctx}, "VoteCast")
	if err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "watchVoteCast", err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				ev, err := c.DecodeVoteCast(log)
				if err != nil {
					c.logger.Warn("dropping undecodable VoteCast log",
						"component", "ledger",
						"tx", log.TxHash.Hex(),
						"error", err,
					)
					continue
				}
				select {
				case sink <- ev:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// Transactor is a Writer bound to one signing account.
type Transactor struct {
	contract *Contract
	opts     *bind.TransactOpts
	gasLimit uint64

	mu      sync.Mutex
	pending map[common.Hash]*types.Transaction
}

// Writer binds opts to the contract. A zero gasLimit selects DefaultGasLimit.
func (c *Contract) Writer(opts *bind.TransactOpts, gasLimit uint64) *Transactor {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Transactor{
		contract: c,
		opts:     opts,
		gasLimit: gasLimit,
		pending:  make(map[common.Hash]*types.Transaction),
	}
}

func (t *Transactor) From() common.Address {
	return t.opts.From
}

func (t *Transactor) transact(ctx context.Context, method string, params ...interface{}) (common.Hash, error) {
	opts := *t.opts
	opts.Context = ctx
	opts.GasLimit = t.gasLimit
	tx, err := t.contract.bound.Transact(&opts, method, params...)
	if err != nil {
		return common.Hash{}, voteerr.New(voteerr.KindTransportFailure, method, err)
	}
	t.mu.Lock()
	t.pending[tx.Hash()] = tx
	t.mu.Unlock()
	t.contract.logger.Debug("submitted transaction",
		"component", "ledger",
		"method", method,
		"tx", tx.Hash().Hex(),
	)
	return tx.Hash(), nil
}

func (t *Transactor) CreateProposal(ctx context.Context, title, description string, duration time.Duration) (common.Hash, error) {
	seconds := int64(duration / time.Second)
	if seconds <= 0 {
		return common.Hash{}, voteerr.Newf(voteerr.KindInvalidArgument, "createProposal", "duration must be positive")
	}
	return t.transact(ctx, "createProposal", title, description, big.NewInt(seconds))
}

func (t *Transactor) CastVote(ctx context.Context, id uint64, input *models.EncryptedVoteInput) (common.Hash, error) {
	if input == nil || len(input.Proof) == 0 {
		return common.Hash{}, voteerr.Newf(voteerr.KindTransportFailure, "castVote", "missing encrypted input")
	}
	return t.transact(ctx, "castVote", new(big.Int).SetUint64(id), [32]byte(input.Handle), []byte(input.Proof))
}

// WaitConfirmed blocks until a transaction submitted through t is mined.
func (t *Transactor) WaitConfirmed(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	t.mu.Lock()
	tx, ok := t.pending[txHash]
	t.mu.Unlock()
	if !ok {
		return nil, voteerr.Newf(voteerr.KindTransportFailure, "waitConfirmed", "unknown transaction %s", txHash.Hex())
	}
	receipt, err := bind.WaitMined(ctx, t.contract.backend, tx)
	if err != nil {
		return nil, voteerr.New(voteerr.KindTransportFailure, "waitConfirmed", err)
	}
	t.mu.Lock()
	delete(t.pending, txHash)
	t.mu.Unlock()
	r := &Receipt{
		TxHash:  receipt.TxHash,
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}
