// Package service orchestrates the voting client: the vote flow from
// encryption to confirmed submission, proposal listing and views, result
// decryption and the my-votes scan.
package service

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
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"zvote/cache"
	"zvote/codec"
	"zvote/decryption"
	"zvote/encryption"
	"zvote/ledger"
	"zvote/models"
	"zvote/proposals"
	"zvote/voteerr"
)

const (
	DefaultViewTTL     = 15 * time.Second
	DefaultScanWorkers = 8
)

// Identity is the local account that signs decryption authorizations.
type Identity interface {
	decryption.Signer
	Address() common.Address
}

// Config wires a VotingService. Ledger, Encryptor, Tracker, Decrypter and
// Cache are required; Writer and Identity may be nil for a read-only client.
type Config struct {
	Ledger       ledger.Ledger
	Writer       ledger.Writer
	Identity     Identity
	Encryptor    *encryption.VoteEncryptor
	Tracker      *proposals.Tracker
	Decrypter    *decryption.Protocol
	Cache        *cache.Reconciler
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Clock        func() time.Time
	ViewTTL      time.Duration
	ScanWorkers  int
	PageSize     int
}

type VotingService struct {
	config   Config
	ledger   ledger.Ledger
	writer   ledger.Writer
	identity Identity
	logger   *slog.Logger
	now      func() time.Time
	inflight *inflightGuard
	metrics  *serviceMetrics
	views    *viewCache
}

func NewVotingService(cfg Config) (*VotingService, error) {
	if cfg.Ledger == nil || cfg.Encryptor == nil || cfg.Tracker == nil || cfg.Decrypter == nil || cfg.Cache == nil {
		return nil, errors.New("ledger, encryptor, tracker, decrypter and cache are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ViewTTL == 0 {
		cfg.ViewTTL = DefaultViewTTL
	}
	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = DefaultScanWorkers
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = proposals.DefaultPageSize
	}
	return &VotingService{
		config:   cfg,
		ledger:   cfg.Ledger,
		writer:   cfg.Writer,
		identity: cfg.Identity,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		inflight: newInflightGuard(),
		metrics:  initMetrics(cfg.PromRegistry),
		views:    newViewCache(cfg.ViewTTL, cfg.Clock),
	}, nil
}

// Account returns the signing account, if any.
func (s *VotingService) Account() (common.Address, bool) {
	if s.writer == nil {
		return common.Address{}, false
	}
	return s.writer.From(), true
}

func (s *VotingService) requireWriter(step string) error {
	if s.writer == nil {
		return voteerr.Newf(voteerr.KindInvalidIdentity, step, "no signing account configured")
	}
	return nil
}

// VoteReceipt describes a confirmed vote.
type VoteReceipt struct {
	ProposalID  uint64         `json:"proposalId"`
	Voter       common.Address `json:"voter"`
	Choice      models.Choice  `json:"choice"`
	Handle      string         `json:"handle"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
}

// CastVote encrypts choice, submits it and waits for confirmation. The
// local record is written only after the ledger confirms. A concurrent
// attempt for the same proposal and account fails with AlreadyInProgress.
func (s *VotingService) CastVote(ctx context.Context, proposalID uint64, choice models.Choice) (*VoteReceipt, error) {
	start := time.Now()
	receipt, err := s.castVote(ctx, proposalID, choice)
	s.metrics.votesCast.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.logger.Warn("vote failed",
			"component", "service",
			"proposal_id", proposalID,
			"kind", voteerr.KindOf(err),
			"step", voteerr.StepOf(err),
			"error", err,
		)
		return nil, err
	}
	s.metrics.voteDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("vote confirmed",
		"component", "service",
		"proposal_id", proposalID,
		"voter", receipt.Voter.Hex(),
		"tx", receipt.TxHash.Hex(),
	)
	return receipt, nil
}

func (s *VotingService) castVote(ctx context.Context, proposalID uint64, choice models.Choice) (*VoteReceipt, error) {
	if err := s.requireWriter("vote"); err != nil {
		return nil, err
	}
	voter := s.writer.From()
	key := inflightKey{proposalID: proposalID, voter: voter}
	if !s.inflight.acquire(key) {
		return nil, voteerr.Newf(voteerr.KindAlreadyInProgress, "vote",
			"a vote on proposal %d is already being submitted", proposalID)
	}
	s.metrics.votesInFlight.Set(float64(s.inflight.size()))
	defer func() {
		s.inflight.release(key)
		s.metrics.votesInFlight.Set(float64(s.inflight.size()))
	}()

	proposal, err := s.ledger.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "get-proposal", err)
	}
	if !proposal.IsActive || s.now().Unix() >= proposal.Deadline {
		return nil, voteerr.Newf(voteerr.KindProposalClosed, "vote", "proposal %d is not accepting votes", proposalID)
	}
	voted, err := s.ledger.CheckIfVoted(ctx, proposalID, voter)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "check-voted", err)
	}
	if voted {
		return nil, voteerr.Newf(voteerr.KindAlreadyVoted, "vote", "already voted on proposal %d", proposalID)
	}
	// The ledger says no vote exists, so any local record is stale.
	if err := s.config.Cache.DiscardVote(proposalID, voter); err != nil {
		s.logger.Warn("failed to discard stale vote record", "component", "service", "error", err)
	}

	input, err := s.config.Encryptor.EncryptVoteFor(ctx, choice, s.ledger.Address(), voter)
	if err != nil {
		return nil, err
	}
	txHash, err := s.writer.CastVote(ctx, proposalID, input)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "submit", err)
	}
	receipt, err := s.writer.WaitConfirmed(ctx, txHash)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "confirm", err)
	}
	if !receipt.Succeeded() {
		return nil, voteerr.Newf(voteerr.KindTransportFailure, "confirm", "transaction %s reverted", txHash.Hex())
	}
	s.views.invalidate(proposalID)

	if err := s.config.Cache.RecordVote(proposalID, voter, choice); err != nil {
		// The vote is on the ledger; a cache failure only costs the
		// last-known choice.
		s.logger.Warn("failed to record vote locally",
			"component", "service",
			"proposal_id", proposalID,
			"error", err,
		)
	}
	return &VoteReceipt{
		ProposalID:  proposalID,
		Voter:       voter,
		Choice:      choice,
		Handle:      input.HandleHex(),
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

// ParseDuration converts an amount of minutes, hours or days.
func ParseDuration(amount int, unit string) (time.Duration, error) {
	if amount <= 0 {
		return 0, voteerr.Newf(voteerr.KindInvalidArgument, "duration", "duration must be positive")
	}
	var base time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "m", "min", "minute", "minutes":
		base = time.Minute
	case "h", "hour", "hours":
		base = time.Hour
	case "d", "day", "days":
		base = 24 * time.Hour
	default:
		return 0, voteerr.Newf(voteerr.KindInvalidArgument, "duration", "unknown duration unit %q", unit)
	}
	return time.Duration(amount) * base, nil
}

type CreateReceipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	// ProposalID is the newest id after confirmation.
	ProposalID uint64 `json:"proposalId"`
}

func (s *VotingService) CreateProposal(ctx context.Context, title, description string, duration time.Duration) (*CreateReceipt, error) {
	receipt, err := s.createProposal(ctx, title, description, duration)
	s.metrics.proposalsCreated.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.logger.Info("proposal created",
		"component", "service",
		"proposal_id", receipt.ProposalID,
		"tx", receipt.TxHash.Hex(),
	)
	return receipt, nil
}

func (s *VotingService) createProposal(ctx context.Context, title, description string, duration time.Duration) (*CreateReceipt, error) {
	if err := s.requireWriter("create"); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, voteerr.Newf(voteerr.KindInvalidArgument, "create", "title is required")
	}
	if duration < time.Second {
		return nil, voteerr.Newf(voteerr.KindInvalidArgument, "create", "duration must be at least one second")
	}
	txHash, err := s.writer.CreateProposal(ctx, title, strings.TrimSpace(description), duration)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "submit", err)
	}
	receipt, err := s.writer.WaitConfirmed(ctx, txHash)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "confirm", err)
	}
	if !receipt.Succeeded() {
		return nil, voteerr.Newf(voteerr.KindTransportFailure, "confirm", "transaction %s reverted", txHash.Hex())
	}
	count, err := s.ledger.ProposalCount(ctx)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "proposal-count", err)
	}
	return &CreateReceipt{TxHash: txHash, BlockNumber: receipt.BlockNumber, ProposalID: count}, nil
}

type StatusFilter string

const (
	FilterAll    StatusFilter = "all"
	FilterActive StatusFilter = "active"
	FilterClosed StatusFilter = "closed"
)

func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive:
		return FilterActive, nil
	case FilterClosed:
		return FilterClosed, nil
	}
	return "", voteerr.Newf(voteerr.KindInvalidArgument, "filter", "unknown status filter %q", s)
}

type ListOptions struct {
	Status   StatusFilter
	Order    proposals.Order
	Page     int
	PageSize int
}

type ProposalSummary struct {
	ID       uint64           `json:"id"`
	Status   string           `json:"status"`
	Proposal *models.Proposal `json:"proposal,omitempty"`
	// ReadError is set when the proposal could not be read; it is then
	// listed as closed.
	ReadError string `json:"readError,omitempty"`
}

type ProposalList struct {
	proposals.Page[ProposalSummary]
	ActiveCount int `json:"activeCount"`
	ClosedCount int `json:"closedCount"`
}

// ListProposals classifies every proposal by its ledger status and returns
// the requested page.
func (s *VotingService) ListProposals(ctx context.Context, opts ListOptions) (*ProposalList, error) {
	c, err := s.config.Tracker.Snapshot(ctx, opts.Order)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "list-proposals", err)
	}
	s.metrics.activeProposals.Set(float64(len(c.Active)))
	s.metrics.closedProposals.Set(float64(len(c.Closed)))

	active := make(map[uint64]bool, len(c.Active))
	for _, id := range c.Active {
		active[id] = true
	}
	var ids []uint64
	switch opts.Status {
	case FilterActive:
		ids = c.Active
	case FilterClosed:
		ids = c.Closed
	default:
		ids = append(append(make([]uint64, 0, len(c.Active)+len(c.Closed)), c.Active...), c.Closed...)
		sort.Slice(ids, func(i, j int) bool {
			if opts.Order == proposals.OrderAscending {
				return ids[i] < ids[j]
			}
			return ids[i] > ids[j]
		})
	}

	summaries := make([]ProposalSummary, 0, len(ids))
	for _, id := range ids {
		summary := ProposalSummary{ID: id, Status: string(FilterClosed)}
		if active[id] {
			summary.Status = string(FilterActive)
		}
		if p, ok := c.Proposals[id]; ok {
			summary.Proposal = p
			s.views.put(p)
		} else if readErr, ok := c.Failed[id]; ok {
			summary.ReadError = readErr.Error()
		}
		summaries = append(summaries, summary)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = s.config.PageSize
	}
	return &ProposalList{
		Page:        proposals.Paginate(summaries, pageSize, opts.Page),
		ActiveCount: len(c.Active),
		ClosedCount: len(c.Closed),
	}, nil
}

// ProposalView is everything a proposal page shows.
type ProposalView struct {
	Proposal      *models.Proposal   `json:"proposal"`
	TimeRemaining time.Duration      `json:"timeRemaining"`
	IsCreator     bool               `json:"isCreator"`
	CanDecrypt    bool               `json:"canDecrypt"`
	VoteStatus    *models.VoteStatus `json:"voteStatus,omitempty"`
	Result        *ResultView        `json:"result,omitempty"`
}

func (s *VotingService) proposal(ctx context.Context, id uint64) (*models.Proposal, error) {
	if p, ok := s.views.get(id); ok {
		return p, nil
	}
	p, err := s.ledger.GetProposal(ctx, id)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "get-proposal", err)
	}
	s.views.put(p)
	return p, nil
}

// GetProposalView reads the proposal and, when viewer is set, the ledger
// has-voted flag reconciled with the local record. A cached result is
// attached for display only.
func (s *VotingService) GetProposalView(ctx context.Context, id uint64, viewer *common.Address) (*ProposalView, error) {
	p, err := s.proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &ProposalView{
		Proposal:      p,
		TimeRemaining: p.TimeRemaining(s.now()),
	}
	if viewer != nil {
		voted, err := s.ledger.CheckIfVoted(ctx, id, *viewer)
		if err != nil {
			return nil, voteerr.Classify(voteerr.KindTransportFailure, "check-voted", err)
		}
		status, err := s.config.Cache.Status(id, *viewer, voted)
		if err != nil {
			s.logger.Warn("failed to read local vote record", "component", "service", "error", err)
		}
		view.VoteStatus = &status
		view.IsCreator = p.IsCreator(*viewer)
		view.CanDecrypt = view.IsCreator && !p.IsActive
	}
	if tally, found, err := s.config.Cache.ReadResult(id); err == nil && found {
		view.Result = NewResultView(id, tally, SourceCache)
	}
	return view, nil
}

// DecryptResults returns the tally of a closed proposal to its creator.
// A locally remembered tally is returned unless force is set, but only after
// the same creator and closed checks the handshake applies.
func (s *VotingService) DecryptResults(ctx context.Context, id uint64, force bool, expectedTotal *uint64) (*ResultView, error) {
	if s.identity == nil {
		return nil, voteerr.Newf(voteerr.KindUnauthorized, "authorize", "no signing account configured")
	}
	if !force {
		// The cached tally is only served to a caller the ledger would
		// authorize to decrypt it.
		proposal, err := s.ledger.GetProposal(ctx, id)
		if err != nil {
			return nil, voteerr.Classify(voteerr.KindTransportFailure, "get-proposal", err)
		}
		if !proposal.IsCreator(s.identity.Address()) {
			return nil, voteerr.Newf(voteerr.KindUnauthorized, "authorize", "only the proposal creator can decrypt results")
		}
		if proposal.IsActive {
			return nil, voteerr.Newf(voteerr.KindUnauthorized, "authorize", "proposal %d is still active", id)
		}
		if tally, found, err := s.config.Cache.ReadResult(id); err == nil && found {
			return NewResultView(id, tally, SourceCache), nil
		}
	}
	start := time.Now()
	res, err := s.config.Decrypter.Decrypt(ctx, decryption.Request{
		ProposalID:    id,
		Requester:     s.identity.Address(),
		Signer:        s.identity,
		ExpectedTotal: expectedTotal,
	})
	s.metrics.decryptions.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.metrics.decryptDuration.Observe(time.Since(start).Seconds())
	if err := s.config.Cache.RecordResult(id, res.Tally); err != nil {
		s.logger.Warn("failed to cache result", "component", "service", "proposal_id", id, "error", err)
	}
	return NewResultView(id, res.Tally, SourceDecrypted), nil
}

// MyVote is one entry of the my-votes view. Choice is "yes", "no" or
// "unknown" when no local record exists.
type MyVote struct {
	ProposalID uint64 `json:"proposalId"`
	Title      string `json:"title"`
	IsActive   bool   `json:"isActive"`
	Deadline   int64  `json:"deadline"`
	Choice     string `json:"choice"`
}

const ChoiceUnknown = "unknown"

// MyVotes scans every proposal id for the ledger has-voted flag of voter and
// attaches the locally remembered choice. Newest first.
func (s *VotingService) MyVotes(ctx context.Context, voter common.Address) ([]MyVote, error) {
	count, err := s.ledger.ProposalCount(ctx)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "proposal-count", err)
	}

	var (
		mu    sync.Mutex
		votes = make([]MyVote, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.ScanWorkers)
	for id := uint64(1); id <= count; id++ {
		g.Go(func() error {
			voted, err := s.ledger.CheckIfVoted(gctx, id, voter)
			if err != nil {
				return voteerr.Classify(voteerr.KindTransportFailure, "check-voted", err)
			}
			if !voted {
				return nil
			}
			p, err := s.ledger.GetProposal(gctx, id)
			if err != nil {
				return voteerr.Classify(voteerr.KindTransportFailure, "get-proposal", err)
			}
			entry := MyVote{
				ProposalID: id,
				Title:      p.Title,
				IsActive:   p.IsActive,
				Deadline:   p.Deadline,
				Choice:     ChoiceUnknown,
			}
			if choice, found, err := s.config.Cache.ReadVote(id, voter); err == nil && found {
				entry.Choice = choice.String()
			}
			mu.Lock()
			votes = append(votes, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ProposalID > votes[j].ProposalID })
	return votes, nil
}

// ParseAccount is a convenience for callers holding a textual address.
func ParseAccount(s string) (common.Address, error) {
	addr, err := codec.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid account: %w", err)
	}
	return addr, nil
}
