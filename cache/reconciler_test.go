package cache_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zvote/cache"
	"zvote/models"
	"zvote/storage"
	"zvote/voteerr"
)

var (
	alice = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func TestKeysMatchStoredFormat(t *testing.T) {
	assert.Equal(t, "proposal_7_results", cache.ResultKey(7))
	assert.Equal(t, "proposal_7_vote_0xabcdef0000000000000000000000000000000001", cache.VoteKey(7, alice))
}

func TestRecordVoteIsIdempotentAndNeverFlips(t *testing.T) {
	store := storage.NewMemoryStore()
	r := cache.NewReconciler(store)

	require.NoError(t, r.RecordVote(1, alice, models.ChoiceYes))
	require.NoError(t, r.RecordVote(1, alice, models.ChoiceYes))

	err := r.RecordVote(1, alice, models.ChoiceNo)
	assert.ErrorIs(t, err, voteerr.ErrAlreadyVoted)

	choice, found, err := r.ReadVote(1, alice)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ChoiceYes, choice)

	raw, _, err := store.Get("proposal_1_vote_0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "yes", raw)

	// Another voter on the same proposal is independent.
	require.NoError(t, r.RecordVote(1, bob, models.ChoiceNo))
	choice, found, err = r.ReadVote(1, bob)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.ChoiceNo, choice)
}

func TestResults(t *testing.T) {
	store := storage.NewMemoryStore()
	r := cache.NewReconciler(store)

	_, found, err := r.ReadResult(3)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.RecordResult(3, models.Tally{YesVotes: 7, NoVotes: 3}))
	require.NoError(t, r.RecordResult(3, models.Tally{YesVotes: 8, NoVotes: 3}))
	tally, found, err := r.ReadResult(3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.Tally{YesVotes: 8, NoVotes: 3}, tally)

	raw, _, err := store.Get("proposal_3_results")
	require.NoError(t, err)
	assert.JSONEq(t, `{"yesVotes":8,"noVotes":3}`, raw)

	require.NoError(t, store.Set("proposal_4_results", "not json"))
	_, found, err = r.ReadResult(4)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconcile(t *testing.T) {
	yes := models.ChoiceYes
	tests := []struct {
		name  string
		local *models.Choice
		auth  bool
		want  models.VoteStatus
	}{
		{"nothing anywhere", nil, false, models.VoteStatus{}},
		{"ledger only", nil, true, models.VoteStatus{HasVoted: true}},
		{"both agree", &yes, true, models.VoteStatus{HasVoted: true, LastKnownChoice: &yes}},
		{"local only is stale", &yes, false, models.VoteStatus{LastKnownChoice: &yes, Stale: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cache.Reconcile(tt.local, tt.auth))
		})
	}
}

func TestStatusUsesLedgerFlag(t *testing.T) {
	r := cache.NewReconciler(storage.NewMemoryStore())
	require.NoError(t, r.RecordVote(2, alice, models.ChoiceNo))

	status, err := r.Status(2, alice, false)
	require.NoError(t, err)
	assert.False(t, status.HasVoted)
	assert.True(t, status.Stale)
	require.NotNil(t, status.LastKnownChoice)
	assert.Equal(t, models.ChoiceNo, *status.LastKnownChoice)

	status, err = r.Status(2, bob, true)
	require.NoError(t, err)
	assert.True(t, status.HasVoted)
	assert.Nil(t, status.LastKnownChoice)
}

func TestVotesByVoter(t *testing.T) {
	r := cache.NewReconciler(storage.NewMemoryStore())
	require.NoError(t, r.RecordVote(1, alice, models.ChoiceYes))
	require.NoError(t, r.RecordVote(12, alice, models.ChoiceNo))
	require.NoError(t, r.RecordVote(3, bob, models.ChoiceYes))
	require.NoError(t, r.RecordResult(1, models.Tally{YesVotes: 1}))

	records, err := r.VotesByVoter(alice)
	require.NoError(t, err)
	assert.Equal(t, []models.VoteRecord{
		{ProposalID: 12, Voter: alice, Choice: models.ChoiceNo},
		{ProposalID: 1, Voter: alice, Choice: models.ChoiceYes},
	}, records)
}

func TestDiscardVote(t *testing.T) {
	r := cache.NewReconciler(storage.NewMemoryStore())

	require.NoError(t, r.DiscardVote(3, alice))

	require.NoError(t, r.RecordVote(3, alice, models.ChoiceNo))
	require.NoError(t, r.DiscardVote(3, alice))
	_, found, err := r.ReadVote(3, alice)
	require.NoError(t, err)
	assert.False(t, found)

	// A discarded record no longer blocks a different choice.
	require.NoError(t, r.RecordVote(3, alice, models.ChoiceYes))
}
