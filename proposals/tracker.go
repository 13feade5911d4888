// Package proposals tracks proposal lifecycle as reported by the ledger. It
// only observes: whether a proposal is active is always the ledger's answer.
package proposals

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"zvote/ledger"
	"zvote/models"
)

const DefaultConcurrency = 8

type Order int

const (
	OrderNewestFirst Order = iota
	OrderAscending
)

// Classification splits a set of proposal ids by their ledger status. Ids
// whose read failed are counted as closed and listed in Failed.
type Classification struct {
	Active    []uint64
	Closed    []uint64
	Proposals map[uint64]*models.Proposal
	Failed    map[uint64]error
}

type Tracker struct {
	reader      ledger.Reader
	concurrency int
	logger      *slog.Logger
}

type TrackerOptionFunc func(*Tracker)

func WithConcurrency(n int) TrackerOptionFunc {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) TrackerOptionFunc {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func NewTracker(reader ledger.Reader, opts ...TrackerOptionFunc) *Tracker {
	t := &Tracker{
		reader:      reader,
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ListProposalIDs returns every proposal id known to the ledger.
func (t *Tracker) ListProposalIDs(ctx context.Context, order Order) ([]uint64, error) {
	ids, err := t.reader.GetAllProposals(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]uint64(nil), ids...)
	if order == OrderAscending {
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	}
	return out, nil
}

// Classify reads every proposal independently and concurrently. Input order
// is preserved within Active and Closed; duplicates are collapsed.
func (t *Tracker) Classify(ctx context.Context, ids []uint64) *Classification {
	unique := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]*models.Proposal, len(unique))
	errs := make([]error, len(unique))
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, id := range unique {
		g.Go(func() error {
			p, err := t.reader.GetProposal(ctx, id)
			results[i], errs[i] = p, err
			return nil
		})
	}
	_ = g.Wait()

	c := &Classification{
		Active:    make([]uint64, 0),
		Closed:    make([]uint64, 0),
		Proposals: make(map[uint64]*models.Proposal, len(unique)),
		Failed:    make(map[uint64]error),
	}
	for i, id := range unique {
		if errs[i] != nil {
			t.logger.Warn("failed to read proposal, treating as closed",
				"component", "proposals",
				"proposal_id", id,
				"error", errs[i],
			)
			c.Failed[id] = errs[i]
			c.Closed = append(c.Closed, id)
			continue
		}
		c.Proposals[id] = results[i]
		if results[i].IsActive {
			c.Active = append(c.Active, id)
		} else {
			c.Closed = append(c.Closed, id)
		}
	}
	return c
}

// Snapshot lists and classifies every proposal.
func (t *Tracker) Snapshot(ctx context.Context, order Order) (*Classification, error) {
	ids, err := t.ListProposalIDs(ctx, order)
	if err != nil {
		return nil, err
	}
	return t.Classify(ctx, ids), nil
}
