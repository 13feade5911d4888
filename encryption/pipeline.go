package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/models"
	"zvote/voteerr"
)

// VoteEncryptor turns a yes/no choice into a ciphertext handle and validity
// proof bound to one contract and one voter. It never writes to the ledger
// or to local storage.
type VoteEncryptor struct {
	engines *Service
	logger  *slog.Logger
}

func NewVoteEncryptor(engines *Service, logger *slog.Logger) *VoteEncryptor {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &VoteEncryptor{engines: engines, logger: logger}
}

// EncryptVote validates the textual identities before touching the engine.
func (v *VoteEncryptor) EncryptVote(
	ctx context.Context,
	choice models.Choice,
	contractID string,
	voterID string,
) (*models.EncryptedVoteInput, error) {
	contract, err := codec.ParseAddress(contractID)
	if err != nil {
		return nil, err
	}
	voter, err := codec.ParseAddress(voterID)
	if err != nil {
		return nil, err
	}
	return v.EncryptVoteFor(ctx, choice, contract, voter)
}

func (v *VoteEncryptor) EncryptVoteFor(
	ctx context.Context,
	choice models.Choice,
	contract common.Address,
	voter common.Address,
) (*models.EncryptedVoteInput, error) {
	if contract == (common.Address{}) || voter == (common.Address{}) {
		return nil, voteerr.New(voteerr.KindInvalidIdentity, "encrypt", errors.New("zero address"))
	}
	engine, err := v.engines.Engine(ctx)
	if err != nil {
		return nil, err
	}
	input := engine.CreateEncryptedInput(contract, voter)
	if err := input.Add32(choice.Value()); err != nil {
		return nil, voteerr.Classify(voteerr.KindSdkUnavailable, "encrypt", err)
	}
	out, err := input.Encrypt(ctx)
	if err != nil {
		return nil, voteerr.Classify(voteerr.KindTransportFailure, "encrypt", err)
	}
	if len(out.Handles) != 1 {
		return nil, voteerr.New(
			voteerr.KindTransportFailure,
			"encrypt",
			fmt.Errorf("engine returned %d handles, expected 1", len(out.Handles)),
		)
	}
	if len(out.InputProof) == 0 {
		return nil, voteerr.New(voteerr.KindTransportFailure, "encrypt", errors.New("engine returned empty proof"))
	}
	v.logger.Debug(
		"vote encrypted",
		"component", "encryption",
		"contract", contract.Hex(),
		"voter", voter.Hex(),
		"handle", out.Handles[0].Hex(),
	)
	return &models.EncryptedVoteInput{
		Handle: out.Handles[0],
		Proof:  out.InputProof,
	}, nil
}
