package service

import (
	"context"
	"errors"

	"zvote/ledger"
	"zvote/models"
	"zvote/voteerr"
)

const watchBuffer = 16

// VoteUpdate is delivered for every observed VoteCast event. Proposal is the
// freshly re-read proposal, or nil when that read failed.
type VoteUpdate struct {
	Event    *ledger.VoteCastEvent
	Proposal *models.Proposal
}

// Watch follows VoteCast events until ctx is done or the subscription
// fails. Each event drops the cached view of its proposal and triggers a
// re-read before handler runs. Watch returns nil when ctx is cancelled.
func (s *VotingService) Watch(ctx context.Context, handler func(VoteUpdate)) error {
	sink := make(chan *ledger.VoteCastEvent, watchBuffer)
	sub, err := s.ledger.SubscribeVoteCast(ctx, sink)
	if err != nil {
		return voteerr.Classify(voteerr.KindTransportFailure, "subscribe", err)
	}
	defer sub.Unsubscribe()
	s.logger.Debug("watching vote events", "component", "watcher")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errors.New("vote event subscription closed")
			}
			return voteerr.Classify(voteerr.KindTransportFailure, "subscribe", err)
		case ev := <-sink:
			s.metrics.voteEvents.Inc()
			s.views.invalidate(ev.ProposalID)
			update := VoteUpdate{Event: ev}
			p, err := s.proposal(ctx, ev.ProposalID)
			if err != nil {
				s.logger.Warn("failed to refresh proposal after vote event",
					"component", "watcher",
					"proposal_id", ev.ProposalID,
					"error", err,
				)
			} else {
				update.Proposal = p
			}
			s.logger.Debug("vote event",
				"component", "watcher",
				"proposal_id", ev.ProposalID,
				"voter", ev.Voter.Hex(),
			)
			if handler != nil {
				handler(update)
			}
		}
	}
}
