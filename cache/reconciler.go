// Package cache keeps the advisory local record of a user's votes and of
// decrypted results. The ledger stays authoritative: the cache never decides
// whether someone has voted.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/models"
	"zvote/storage"
	"zvote/voteerr"
)

const keyPrefix = "proposal_"

func ResultKey(proposalID uint64) string {
	return fmt.Sprintf("proposal_%d_results", proposalID)
}

func VoteKey(proposalID uint64, voter common.Address) string {
	return fmt.Sprintf("proposal_%d_vote_%s", proposalID, codec.LowerHex(voter))
}

type Reconciler struct {
	store storage.Store
}

func NewReconciler(store storage.Store) *Reconciler {
	return &Reconciler{store: store}
}

// RecordVote remembers voter's choice. Recording the same choice again is a
// no-op; a different choice for an existing record is refused.
func (r *Reconciler) RecordVote(proposalID uint64, voter common.Address, choice models.Choice) error {
	key := VoteKey(proposalID, voter)
	existing, found, err := r.store.Get(key)
	if err != nil {
		return fmt.Errorf("failed to read vote record: %w", err)
	}
	if found {
		prev, err := models.ParseChoice(existing)
		if err == nil && prev == choice {
			return nil
		}
		return voteerr.Newf(voteerr.KindAlreadyVoted, "record-vote",
			"proposal %d already has a recorded vote for %s", proposalID, codec.LowerHex(voter))
	}
	if err := r.store.Set(key, choice.String()); err != nil {
		return fmt.Errorf("failed to write vote record: %w", err)
	}
	return nil
}

func (r *Reconciler) ReadVote(proposalID uint64, voter common.Address) (models.Choice, bool, error) {
	raw, found, err := r.store.Get(VoteKey(proposalID, voter))
	if err != nil || !found {
		return 0, false, err
	}
	choice, err := models.ParseChoice(raw)
	if err != nil {
		// Unreadable entries are treated as absent.
		return 0, false, nil
	}
	return choice, true, nil
}

// DiscardVote drops the local record for (proposalID, voter). Used when the
// ledger reports no vote, which makes any local record stale.
func (r *Reconciler) DiscardVote(proposalID uint64, voter common.Address) error {
	if err := r.store.Delete(VoteKey(proposalID, voter)); err != nil {
		return fmt.Errorf("failed to delete vote record: %w", err)
	}
	return nil
}

// RecordResult stores a decrypted tally for display, replacing any earlier one.
func (r *Reconciler) RecordResult(proposalID uint64, tally models.Tally) error {
	data, err := json.Marshal(tally)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.store.Set(ResultKey(proposalID), string(data)); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func (r *Reconciler) ReadResult(proposalID uint64) (models.Tally, bool, error) {
	raw, found, err := r.store.Get(ResultKey(proposalID))
	if err != nil || !found {
		return models.Tally{}, false, err
	}
	var tally models.Tally
	if err := json.Unmarshal([]byte(raw), &tally); err != nil {
		return models.Tally{}, false, nil
	}
	return tally, true, nil
}

// Reconcile combines a local record with the ledger's has-voted flag. The
// flag always wins; a local record the ledger does not confirm is only
// surfaced as a stale last-known choice.
func Reconcile(local *models.Choice, authoritativeHasVoted bool) models.VoteStatus {
	status := models.VoteStatus{HasVoted: authoritativeHasVoted}
	if local != nil {
		c := *local
		status.LastKnownChoice = &c
		status.Stale = !authoritativeHasVoted
	}
	return status
}

// Status reads the local record for (proposalID, voter) and reconciles it.
func (r *Reconciler) Status(proposalID uint64, voter common.Address, authoritativeHasVoted bool) (models.VoteStatus, error) {
	choice, found, err := r.ReadVote(proposalID, voter)
	if err != nil {
		return models.VoteStatus{HasVoted: authoritativeHasVoted}, err
	}
	if !found {
		return Reconcile(nil, authoritativeHasVoted), nil
	}
	return Reconcile(&choice, authoritativeHasVoted), nil
}

// VotesByVoter lists every locally recorded vote of voter, newest proposal
// first.
func (r *Reconciler) VotesByVoter(voter common.Address) ([]models.VoteRecord, error) {
	keys, err := r.store.KeysWithPrefix(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	suffix := "_vote_" + codec.LowerHex(voter)
	records := make([]models.VoteRecord, 0)
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), suffix), 10, 64)
		if err != nil {
			continue
		}
		choice, found, err := r.ReadVote(id, voter)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		records = append(records, models.VoteRecord{ProposalID: id, Voter: voter, Choice: choice})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProposalID > records[j].ProposalID })
	return records, nil
}
