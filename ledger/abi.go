package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/models"
)

// VotingABI is the interface of the confidential voting contract.
const VotingABI = `[
  {"type":"function","name":"proposalCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getAllProposals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getProposal","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[
    {"name":"id","type":"uint256"},
    {"name":"creator","type":"address"},
    {"name":"title","type":"string"},
    {"name":"description","type":"string"},
    {"name":"deadline","type":"uint256"},
    {"name":"createdAt","type":"uint256"},
    {"name":"isActive","type":"bool"}]},
  {"type":"function","name":"checkIfVoted","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"voter","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getEncryptedVotes","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"yesVotes","type":"bytes32"},{"name":"noVotes","type":"bytes32"}]},
  {"type":"function","name":"createProposal","stateMutability":"nonpayable","inputs":[{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"castVote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"encryptedVote","type":"bytes32"},{"name":"inputProof","type":"bytes"}],"outputs":[]},
  {"type":"event","name":"VoteCast","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"voter","type":"address","indexed":true}]}
]`

var ErrUnexpectedOutput = errors.New("unexpected contract output")

func ParseVotingABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(VotingABI))
}

// DecodeProposal maps the positional getProposal outputs onto a Proposal.
// An all-zero id means the contract does not know the proposal.
func DecodeProposal(out []interface{}) (*models.Proposal, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("%w: getProposal returned %d values", ErrUnexpectedOutput, len(out))
	}
	id, ok0 := out[0].(*big.Int)
	creator, ok1 := out[1].(common.Address)
	title, ok2 := out[2].(string)
	description, ok3 := out[3].(string)
	deadline, ok4 := out[4].(*big.Int)
	createdAt, ok5 := out[5].(*big.Int)
	isActive, ok6 := out[6].(bool)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return nil, fmt.Errorf("%w: getProposal value types", ErrUnexpectedOutput)
	}
	if !id.IsUint64() || !deadline.IsInt64() || !createdAt.IsInt64() {
		return nil, fmt.Errorf("%w: getProposal value out of range", ErrUnexpectedOutput)
	}
	return &models.Proposal{
		ID:          id.Uint64(),
		Creator:     creator,
		Title:       title,
		Description: description,
		Deadline:    deadline.Int64(),
		CreatedAt:   createdAt.Int64(),
		IsActive:    isActive,
	}, nil
}

func DecodeProposalIDs(out []interface{}) ([]uint64, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: getAllProposals returned %d values", ErrUnexpectedOutput, len(out))
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: getAllProposals value type", ErrUnexpectedOutput)
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if !v.IsUint64() {
			return nil, fmt.Errorf("%w: proposal id out of range", ErrUnexpectedOutput)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

func DecodeEncryptedVotes(out []interface{}) (*EncryptedVotes, error) {
	if len(out) != 2 {
		return nil, fmt.Errorf("%w: getEncryptedVotes returned %d values", ErrUnexpectedOutput, len(out))
	}
	yes, ok1 := out[0].([32]byte)
	no, ok2 := out[1].([32]byte)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: getEncryptedVotes value types", ErrUnexpectedOutput)
	}
	return &EncryptedVotes{Yes: codec.Handle(yes), No: codec.Handle(no)}, nil
}

func decodeUint64(out []interface{}, method string) (uint64, error) {
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s value", ErrUnexpectedOutput, method)
	}
	return v.Uint64(), nil
}

func decodeBool(out []interface{}, method string) (bool, error) {
	if len(out) != 1 {
		return false, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s value", ErrUnexpectedOutput, method)
	}
	return v, nil
}
