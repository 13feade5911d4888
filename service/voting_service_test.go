package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"zvote/cache"
	"zvote/decryption"
	"zvote/devnet"
	"zvote/encryption"
	"zvote/ledger"
	"zvote/models"
	"zvote/proposals"
	"zvote/service"
	"zvote/storage"
	"zvote/voteerr"
	"zvote/wallet"
)

type harness struct {
	network  *devnet.Network
	contract *devnet.Contract
	engines  *encryption.Service
	store    *storage.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	n, err := devnet.NewNetwork(devnet.WithKeySize(512))
	require.NoError(t, err)
	c := devnet.NewContract(n)
	t.Cleanup(c.Close)
	return &harness{
		network:  n,
		contract: c,
		engines:  encryption.NewService(devnet.NewLocalEngine(n)),
		store:    storage.NewMemoryStore(),
	}
}

type serviceOption func(*service.Config)

// newService builds a service acting as w, or a read-only one when w is nil.
func (h *harness) newService(t *testing.T, w *wallet.Wallet, opts ...serviceOption) *service.VotingService {
	t.Helper()
	cfg := service.Config{
		Ledger:    h.contract,
		Encryptor: encryption.NewVoteEncryptor(h.engines, nil),
		Tracker:   proposals.NewTracker(h.contract),
		Decrypter: decryption.NewProtocol(h.contract, h.engines, h.network.Domain()),
		Cache:     cache.NewReconciler(h.store),
		ViewTTL:   -1,
	}
	if w != nil {
		cfg.Writer = h.contract.Writer(w.Address())
		cfg.Identity = w
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := service.NewVotingService(cfg)
	require.NoError(t, err)
	return svc
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(devnet.DefaultChainID)
	require.NoError(t, err)
	return w
}

func TestNewVotingServiceRequiresDependencies(t *testing.T) {
	_, err := service.NewVotingService(service.Config{})
	assert.Error(t, err)
}

func TestCastVoteEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)

	created, err := h.newService(t, creator).CreateProposal(ctx, "  Budget  ", "Approve", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), created.ProposalID)

	svc := h.newService(t, voter)
	receipt, err := svc.CastVote(ctx, 1, models.ChoiceYes)
	require.NoError(t, err)
	assert.Equal(t, voter.Address(), receipt.Voter)
	assert.Equal(t, models.ChoiceYes, receipt.Choice)
	assert.NotEqual(t, common.Hash{}, receipt.TxHash)

	voted, err := h.contract.CheckIfVoted(ctx, 1, voter.Address())
	require.NoError(t, err)
	assert.True(t, voted)

	raw, found, err := h.store.Get(cache.VoteKey(1, voter.Address()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "yes", raw)

	viewer := voter.Address()
	view, err := svc.GetProposalView(ctx, 1, &viewer)
	require.NoError(t, err)
	assert.Equal(t, "Budget", view.Proposal.Title)
	require.NotNil(t, view.VoteStatus)
	assert.True(t, view.VoteStatus.HasVoted)
	assert.False(t, view.VoteStatus.Stale)
	assert.False(t, view.IsCreator)
}

func TestCastVoteTwiceIsAlreadyVoted(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc := h.newService(t, voter, func(c *service.Config) { c.PromRegistry = reg })
	_, err = svc.CastVote(ctx, 1, models.ChoiceNo)
	require.NoError(t, err)

	_, err = svc.CastVote(ctx, 1, models.ChoiceYes)
	assert.ErrorIs(t, err, voteerr.ErrAlreadyVoted)

	choice, _, err := cache.NewReconciler(h.store).ReadVote(1, voter.Address())
	require.NoError(t, err)
	assert.Equal(t, models.ChoiceNo, choice, "local record is never flipped")

	count, err := testutil.GatherAndCount(reg, "zvote_votes_cast_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series for ok and one for already_voted")
}

func TestCastVoteOnClosedProposal(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)
	_, err = h.contract.Writer(creator.Address()).CloseProposal(ctx, 1)
	require.NoError(t, err)

	_, err = h.newService(t, voter).CastVote(ctx, 1, models.ChoiceYes)
	assert.ErrorIs(t, err, voteerr.ErrProposalClosed)

	_, err = h.newService(t, voter).CastVote(ctx, 9, models.ChoiceYes)
	assert.ErrorIs(t, err, voteerr.ErrProposalNotFound)
}

func TestCastVoteAfterDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Minute)
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(time.Hour) }
	svc := h.newService(t, voter, func(c *service.Config) { c.Clock = later })
	_, err = svc.CastVote(ctx, 1, models.ChoiceYes)
	assert.ErrorIs(t, err, voteerr.ErrProposalClosed)
}

func TestCastVoteWithoutAccount(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	_, err := h.newService(t, nil).CastVote(context.Background(), 1, models.ChoiceYes)
	assert.ErrorIs(t, err, voteerr.ErrInvalidIdentity)
}

// gatedWriter holds CastVote until released.
type gatedWriter struct {
	ledger.Writer
	entered chan struct{}
	release chan struct{}
}

func (g *gatedWriter) CastVote(ctx context.Context, id uint64, input *models.EncryptedVoteInput) (common.Hash, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Writer.CastVote(ctx, id, input)
}

func TestConcurrentVoteIsAlreadyInProgress(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)

	gate := &gatedWriter{
		Writer:  h.contract.Writer(voter.Address()),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc := h.newService(t, voter, func(c *service.Config) { c.Writer = gate })

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.CastVote(ctx, 1, models.ChoiceYes)
	}()
	<-gate.entered

	_, err = svc.CastVote(ctx, 1, models.ChoiceNo)
	assert.ErrorIs(t, err, voteerr.ErrAlreadyInProgress)

	close(gate.release)
	wg.Wait()
	require.NoError(t, firstErr)

	choice, found, err := cache.NewReconciler(h.store).ReadVote(1, voter.Address())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ChoiceYes, choice)
}

func TestStaleLocalRecordDoesNotBlockVote(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)

	// A record left behind by a submission that never reached the ledger.
	require.NoError(t, cache.NewReconciler(h.store).RecordVote(1, voter.Address(), models.ChoiceNo))
	svc := h.newService(t, voter)

	viewer := voter.Address()
	view, err := svc.GetProposalView(ctx, 1, &viewer)
	require.NoError(t, err)
	assert.False(t, view.VoteStatus.HasVoted)
	assert.True(t, view.VoteStatus.Stale)

	_, err = svc.CastVote(ctx, 1, models.ChoiceYes)
	require.NoError(t, err)
	choice, _, err := cache.NewReconciler(h.store).ReadVote(1, voter.Address())
	require.NoError(t, err)
	assert.Equal(t, models.ChoiceYes, choice)
}

func TestCreateProposalValidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	svc := h.newService(t, newWallet(t))

	_, err := svc.CreateProposal(ctx, "   ", "", time.Hour)
	assert.ErrorIs(t, err, voteerr.ErrInvalidArgument)
	_, err = svc.CreateProposal(ctx, "Budget", "", 0)
	assert.ErrorIs(t, err, voteerr.ErrInvalidArgument)

	count, err := h.contract.ProposalCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		amount int
		unit   string
		want   time.Duration
		ok     bool
	}{
		{30, "minutes", 30 * time.Minute, true},
		{2, "Hours", 2 * time.Hour, true},
		{7, "d", 7 * 24 * time.Hour, true},
		{0, "days", 0, false},
		{1, "weeks", 0, false},
	}
	for _, tc := range cases {
		got, err := service.ParseDuration(tc.amount, tc.unit)
		if !tc.ok {
			assert.ErrorIs(t, err, voteerr.ErrInvalidArgument)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestListProposals(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator := newWallet(t)
	svc := h.newService(t, creator)
	for _, title := range []string{"one", "two", "three"} {
		_, err := svc.CreateProposal(ctx, title, "", time.Hour)
		require.NoError(t, err)
	}
	_, err := h.contract.Writer(creator.Address()).CloseProposal(ctx, 1)
	require.NoError(t, err)

	all, err := svc.ListProposals(ctx, service.ListOptions{PageSize: 2, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, all.ActiveCount)
	assert.Equal(t, 1, all.ClosedCount)
	assert.Equal(t, 2, all.TotalPages)
	require.Len(t, all.Items, 2)
	assert.Equal(t, uint64(3), all.Items[0].ID)
	assert.Equal(t, uint64(2), all.Items[1].ID)

	closed, err := svc.ListProposals(ctx, service.ListOptions{Status: service.FilterClosed})
	require.NoError(t, err)
	require.Len(t, closed.Items, 1)
	assert.Equal(t, uint64(1), closed.Items[0].ID)
	assert.Equal(t, "closed", closed.Items[0].Status)

	asc, err := svc.ListProposals(ctx, service.ListOptions{Status: service.FilterActive, Order: proposals.OrderAscending})
	require.NoError(t, err)
	require.Len(t, asc.Items, 2)
	assert.Equal(t, uint64(2), asc.Items[0].ID)
	assert.Equal(t, "active", asc.Items[0].Status)

	_, err = service.ParseStatusFilter("pending")
	assert.ErrorIs(t, err, voteerr.ErrInvalidArgument)
}

func TestDecryptResultsUsesCacheUnlessForced(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator := newWallet(t)
	creatorSvc := h.newService(t, creator)
	_, err := creatorSvc.CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)
	for _, c := range []models.Choice{models.ChoiceYes, models.ChoiceYes, models.ChoiceNo} {
		_, err := h.newService(t, newWallet(t)).CastVote(ctx, 1, c)
		require.NoError(t, err)
	}

	_, err = creatorSvc.DecryptResults(ctx, 1, false, nil)
	assert.ErrorIs(t, err, voteerr.ErrUnauthorized, "still active")

	_, err = h.contract.Writer(creator.Address()).CloseProposal(ctx, 1)
	require.NoError(t, err)

	_, err = h.newService(t, newWallet(t)).DecryptResults(ctx, 1, true, nil)
	assert.ErrorIs(t, err, voteerr.ErrUnauthorized)

	expected := uint64(3)
	res, err := creatorSvc.DecryptResults(ctx, 1, false, &expected)
	require.NoError(t, err)
	assert.Equal(t, service.SourceDecrypted, res.Source)
	assert.Equal(t, models.Tally{YesVotes: 2, NoVotes: 1}, res.Tally)
	assert.Equal(t, models.OutcomePassed, res.Outcome)

	cached, err := creatorSvc.DecryptResults(ctx, 1, false, nil)
	require.NoError(t, err)
	assert.Equal(t, service.SourceCache, cached.Source)
	assert.Equal(t, res.Tally, cached.Tally)

	// The shared store now holds the tally; other callers still need to be the creator.
	_, err = h.newService(t, newWallet(t)).DecryptResults(ctx, 1, false, nil)
	assert.ErrorIs(t, err, voteerr.ErrUnauthorized, "cached tally is not served to a non-creator")
	_, err = h.newService(t, nil).DecryptResults(ctx, 1, false, nil)
	assert.ErrorIs(t, err, voteerr.ErrUnauthorized, "cached tally is not served without an account")

	forced, err := creatorSvc.DecryptResults(ctx, 1, true, nil)
	require.NoError(t, err)
	assert.Equal(t, service.SourceDecrypted, forced.Source)

	viewer := creator.Address()
	view, err := creatorSvc.GetProposalView(ctx, 1, &viewer)
	require.NoError(t, err)
	assert.True(t, view.CanDecrypt)
	require.NotNil(t, view.Result)
	assert.Equal(t, service.SourceCache, view.Result.Source)
}

func TestMyVotes(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	h := newHarness(t)
	creator, voter := newWallet(t), newWallet(t)
	creatorSvc := h.newService(t, creator)
	for _, title := range []string{"one", "two", "three"} {
		_, err := creatorSvc.CreateProposal(ctx, title, "", time.Hour)
		require.NoError(t, err)
	}
	svc := h.newService(t, voter)
	_, err := svc.CastVote(ctx, 1, models.ChoiceNo)
	require.NoError(t, err)

	// A vote cast from elsewhere has no local record.
	engine := devnet.NewLocalEngine(h.network)
	require.NoError(t, engine.Init(ctx))
	input := engine.CreateEncryptedInput(h.contract.Address(), voter.Address())
	require.NoError(t, input.Add32(1))
	enc, err := input.Encrypt(ctx)
	require.NoError(t, err)
	_, err = h.contract.Writer(voter.Address()).CastVote(ctx, 3,
		&models.EncryptedVoteInput{Handle: enc.Handles[0], Proof: enc.InputProof})
	require.NoError(t, err)

	votes, err := svc.MyVotes(ctx, voter.Address())
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, uint64(3), votes[0].ProposalID)
	assert.Equal(t, service.ChoiceUnknown, votes[0].Choice)
	assert.Equal(t, "three", votes[0].Title)
	assert.Equal(t, uint64(1), votes[1].ProposalID)
	assert.Equal(t, "no", votes[1].Choice)

	none, err := svc.MyVotes(ctx, creator.Address())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWatchDeliversVoteEvents(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	creator := newWallet(t)
	_, err := h.newService(t, creator).CreateProposal(ctx, "Budget", "", time.Hour)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	watcher := h.newService(t, nil, func(c *service.Config) { c.PromRegistry = reg })
	updates := make(chan service.VoteUpdate, 16)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, func(u service.VoteUpdate) {
			select {
			case updates <- u:
			default:
			}
		})
	}()

	// Events sent before the watcher subscribes are not observed, so keep
	// voting until one arrives.
	voters := make([]*service.VotingService, 20)
	for i := range voters {
		voters[i] = h.newService(t, newWallet(t))
	}
	var (
		update service.VoteUpdate
		next   int
	)
	require.Eventually(t, func() bool {
		if next == len(voters) {
			return false
		}
		_, err := voters[next].CastVote(ctx, 1, models.ChoiceYes)
		next++
		if err != nil {
			return false
		}
		select {
		case update = <-updates:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(1), update.Event.ProposalID)
	require.NotNil(t, update.Proposal)
	assert.Equal(t, "Budget", update.Proposal.Title)
	assert.GreaterOrEqual(t, counterValue(t, reg, "zvote_vote_events_total"), 1.0)

	cancel()
	require.NoError(t, <-done)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
