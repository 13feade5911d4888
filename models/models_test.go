package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChoice(t *testing.T) {
	for _, in := range []string{"yes", "YES", " Yes ", "1"} {
		c, err := ParseChoice(in)
		require.NoError(t, err, in)
		assert.Equal(t, ChoiceYes, c)
		assert.Equal(t, uint32(1), c.Value())
	}
	for _, in := range []string{"no", "No", "0"} {
		c, err := ParseChoice(in)
		require.NoError(t, err, in)
		assert.Equal(t, ChoiceNo, c)
		assert.Equal(t, uint32(0), c.Value())
	}
	_, err := ParseChoice("maybe")
	assert.Error(t, err)
}

func TestChoiceJSON(t *testing.T) {
	buf, err := json.Marshal(struct {
		C Choice `json:"c"`
	}{ChoiceYes})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"yes"}`, string(buf))
}

func TestProposalValidate(t *testing.T) {
	p := Proposal{ID: 1, CreatedAt: 100, Deadline: 200}
	require.NoError(t, p.Validate())

	p.Deadline = 100
	assert.Error(t, p.Validate())

	p = Proposal{ID: 0, CreatedAt: 100, Deadline: 200}
	assert.Error(t, p.Validate())
}

func TestProposalTimeRemaining(t *testing.T) {
	p := Proposal{ID: 1, CreatedAt: 0, Deadline: 1000}
	assert.Equal(t, 400*time.Second, p.TimeRemaining(time.Unix(600, 0)))
	assert.Equal(t, time.Duration(0), p.TimeRemaining(time.Unix(2000, 0)))
}

func TestTallyJSONShape(t *testing.T) {
	buf, err := json.Marshal(Tally{YesVotes: 7, NoVotes: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"yesVotes":7,"noVotes":3}`, string(buf))
}
