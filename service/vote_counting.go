package service

import (
	"zvote/models"
)

// DetermineOutcome derives the displayed outcome from a tally.
func DetermineOutcome(t models.Tally) models.Outcome {
	switch {
	case t.Total() == 0:
		return models.OutcomeNoVotes
	case t.YesVotes > t.NoVotes:
		return models.OutcomePassed
	case t.YesVotes == t.NoVotes:
		return models.OutcomeTie
	default:
		return models.OutcomeFailed
	}
}

// ResultView is a tally with its derived figures.
type ResultView struct {
	ProposalID uint64         `json:"proposalId"`
	Tally      models.Tally   `json:"tally"`
	Total      uint64         `json:"total"`
	YesPercent float64        `json:"yesPercent"`
	NoPercent  float64        `json:"noPercent"`
	Outcome    models.Outcome `json:"outcome"`
	// Source is "cache" for a locally remembered tally and "decrypted" for a
	// fresh handshake.
	Source string `json:"source"`
}

const (
	SourceCache     = "cache"
	SourceDecrypted = "decrypted"
)

func NewResultView(proposalID uint64, t models.Tally, source string) *ResultView {
	v := &ResultView{
		ProposalID: proposalID,
		Tally:      t,
		Total:      t.Total(),
		Outcome:    DetermineOutcome(t),
		Source:     source,
	}
	if v.Total > 0 {
		v.YesPercent = float64(t.YesVotes) * 100 / float64(v.Total)
		v.NoPercent = float64(t.NoVotes) * 100 / float64(v.Total)
	}
	return v
}
