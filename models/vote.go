package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zvote/codec"
)

type Choice uint8

const (
	ChoiceNo Choice = iota
	ChoiceYes
)

// ParseChoice accepts "yes"/"no" in any case, as well as "1"/"0".
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "1":
		return ChoiceYes, nil
	case "no", "0":
		return ChoiceNo, nil
	}
	return ChoiceNo, fmt.Errorf("invalid vote choice %q", s)
}

func (c Choice) String() string {
	if c == ChoiceYes {
		return "yes"
	}
	return "no"
}

// Value is the 32-bit plaintext encrypted for this choice.
func (c Choice) Value() uint32 {
	if c == ChoiceYes {
		return 1
	}
	return 0
}

func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Choice) UnmarshalText(text []byte) error {
	parsed, err := ParseChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// VoteRecord is the locally remembered choice of one voter on one proposal.
type VoteRecord struct {
	ProposalID uint64         `json:"proposalId"`
	Voter      common.Address `json:"voterAddress"`
	Choice     Choice         `json:"choice"`
}

// EncryptedVoteInput is the ciphertext handle and validity proof submitted
// with castVote.
type EncryptedVoteInput struct {
	Handle codec.Handle  `json:"handle"`
	Proof  hexutil.Bytes `json:"proof"`
}

func (e *EncryptedVoteInput) HandleHex() string {
	return e.Handle.Hex()
}

func (e *EncryptedVoteInput) ProofHex() string {
	return codec.EncodeHex(e.Proof)
}

// VoteStatus is the result of reconciling the local cache with the ledger.
// HasVoted always reflects the ledger. LastKnownChoice is display data only;
// Stale is set when the cache remembers a vote the ledger does not confirm.
type VoteStatus struct {
	HasVoted        bool    `json:"hasVoted"`
	LastKnownChoice *Choice `json:"lastKnownChoice,omitempty"`
	Stale           bool    `json:"stale"`
}
