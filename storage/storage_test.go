package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zvote/storage"
)

func exerciseStore(t *testing.T, s storage.Store) {
	t.Helper()
	_, ok, err := s.Get("proposal_1_results")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("proposal_1_results", `{"yesVotes":7,"noVotes":3}`))
	require.NoError(t, s.Set("proposal_1_vote_0xabc", "yes"))
	require.NoError(t, s.Set("proposal_2_vote_0xabc", "no"))
	require.NoError(t, s.Set("other", "x"))

	v, ok, err := s.Get("proposal_1_results")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"yesVotes":7,"noVotes":3}`, v)

	keys, err := s.KeysWithPrefix("proposal_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"proposal_1_results",
		"proposal_1_vote_0xabc",
		"proposal_2_vote_0xabc",
	}, keys)

	require.NoError(t, s.Delete("proposal_1_results"))
	_, ok, err = s.Get("proposal_1_results")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := storage.NewMemoryStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())
	_, _, err := s.Get("other")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestJSONStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewJSONStore(dir)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	reopened, err := storage.NewJSONStore(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get("proposal_2_vote_0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "no", v)
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := storage.NewBadgerStore("", nil)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewBadgerStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Set("proposal_3_vote_0xdef", "yes"))
	require.NoError(t, s.Close())

	reopened, err := storage.NewBadgerStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Get("proposal_3_vote_0xdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}
