package models

// Tally holds decrypted yes/no counts. When read from the local cache it is
// advisory display data.
type Tally struct {
	YesVotes uint64 `json:"yesVotes"`
	NoVotes  uint64 `json:"noVotes"`
}

func (t Tally) Total() uint64 {
	return t.YesVotes + t.NoVotes
}

type Outcome string

const (
	OutcomeNoVotes Outcome = "no_votes"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeTie     Outcome = "tie"
)
