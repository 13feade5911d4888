// Package decryption runs the keyed, signed and time-bounded handshake that
// turns a proposal's tally handles into plaintext counts for its creator.
package decryption

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"

	"zvote/codec"
	"zvote/encryption"
	"zvote/ledger"
	"zvote/models"
	"zvote/voteerr"
)

// ValidityDays is how long a signed decryption authorization stays valid.
const ValidityDays = 1

// Signer produces an EIP-712 signature over td, as 65 bytes of hex. A user
// declining to sign is reported as an error.
type Signer interface {
	SignTypedData(ctx context.Context, td apitypes.TypedData) (string, error)
}

// Observer is told about every state a session enters.
type Observer func(sessionID uuid.UUID, state State)

type Request struct {
	ProposalID uint64
	Requester  common.Address
	Signer     Signer
	// ExpectedTotal, when known, is checked against yes+no.
	ExpectedTotal *uint64
}

type Result struct {
	SessionID  uuid.UUID
	ProposalID uint64
	Tally      models.Tally
}

type Protocol struct {
	reader   ledger.Reader
	engines  *encryption.Service
	domain   encryption.Domain
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

type ProtocolOptionFunc func(*Protocol)

func WithObserver(o Observer) ProtocolOptionFunc {
	return func(p *Protocol) {
		p.observer = o
	}
}

func WithClock(now func() time.Time) ProtocolOptionFunc {
	return func(p *Protocol) {
		p.now = now
	}
}

func WithLogger(logger *slog.Logger) ProtocolOptionFunc {
	return func(p *Protocol) {
		p.logger = logger
	}
}

func NewProtocol(reader ledger.Reader, engines *encryption.Service, domain encryption.Domain, opts ...ProtocolOptionFunc) *Protocol {
	p := &Protocol{
		reader:  reader,
		engines: engines,
		domain:  domain,
		now:     time.Now,
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) transition(s *Session, state State) {
	s.State = state
	if p.observer != nil {
		p.observer(s.ID, state)
	}
}

// Decrypt runs one attempt. Every failure leaves the session Failed and
// carries the step that failed; nothing is retried.
func (p *Protocol) Decrypt(ctx context.Context, req Request) (*Result, error) {
	s := newSession(req.ProposalID)
	defer func() {
		s.Keypair.Wipe()
		s.Keypair = nil
	}()

	tally, err := p.run(ctx, s, req)
	if err != nil {
		p.transition(s, StateFailed)
		p.logger.Warn("decryption failed",
			"component", "decryption",
			"session", s.ID.String(),
			"proposal_id", req.ProposalID,
			"step", voteerr.StepOf(err),
			"error", err,
		)
		return nil, err
	}
	p.transition(s, StateDecrypted)
	p.logger.Info("decrypted tally",
		"component", "decryption",
		"session", s.ID.String(),
		"proposal_id", req.ProposalID,
	)
	return &Result{SessionID: s.ID, ProposalID: req.ProposalID, Tally: tally}, nil
}

func (p *Protocol) run(ctx context.Context, s *Session, req Request) (models.Tally, error) {
	proposal, err := p.reader.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return models.Tally{}, voteerr.Classify(voteerr.KindTransportFailure, "get-proposal", err)
	}
	if !proposal.IsCreator(req.Requester) {
		return models.Tally{}, voteerr.Newf(voteerr.KindUnauthorized, "authorize", "only the proposal creator can decrypt results")
	}
	if proposal.IsActive {
		return models.Tally{}, voteerr.Newf(voteerr.KindUnauthorized, "authorize", "proposal %d is still active", proposal.ID)
	}
	p.transition(s, StateAuthorizationRequired)
	if req.Signer == nil {
		return models.Tally{}, voteerr.Newf(voteerr.KindSignatureRejected, "sign", "no signer available")
	}

	votes, err := p.reader.GetEncryptedVotes(ctx, req.ProposalID, req.Requester)
	if err != nil {
		return models.Tally{}, voteerr.Classify(voteerr.KindTransportFailure, "encrypted-votes", err)
	}

	engine, err := p.engines.Engine(ctx)
	if err != nil {
		return models.Tally{}, err
	}
	kp, err := engine.GenerateKeypair()
	if err != nil {
		return models.Tally{}, voteerr.New(voteerr.KindSdkUnavailable, "keypair", err)
	}
	contract := p.reader.Address()
	s.Keypair = kp
	s.AuthorizedContracts = []common.Address{contract}
	s.ValidFrom = p.now()
	s.ValidityDays = ValidityDays
	p.transition(s, StateKeyGenerated)

	td := encryption.UserDecryptTypedData(p.domain, kp.PublicKey, s.AuthorizedContracts, s.ValidFrom.Unix(), s.ValidityDays)
	sigHex, err := req.Signer.SignTypedData(ctx, td)
	if err != nil {
		return models.Tally{}, voteerr.New(voteerr.KindSignatureRejected, "sign", err)
	}
	if _, err := codec.ParseSignature(sigHex); err != nil {
		return models.Tally{}, voteerr.New(voteerr.KindSignatureRejected, "sign", err)
	}
	s.Signature = codec.StripHexPrefix(sigHex)
	p.transition(s, StateMessageSigned)

	p.transition(s, StateDecryptRequested)
	values, err := engine.UserDecrypt(ctx, &encryption.UserDecryptRequest{
		Pairs: []encryption.HandleContractPair{
			{Handle: votes.Yes, Contract: contract},
			{Handle: votes.No, Contract: contract},
		},
		Keypair:           kp,
		Signature:         s.Signature,
		ContractAddresses: s.AuthorizedContracts,
		UserAddress:       req.Requester,
		StartTimestamp:    s.ValidFrom.Unix(),
		DurationDays:      s.ValidityDays,
	})
	if err != nil {
		return models.Tally{}, voteerr.New(voteerr.KindTransportFailure, "user-decrypt", err)
	}

	tally, err := ParseTally(values, votes.Yes, votes.No, req.ExpectedTotal)
	if err != nil {
		return models.Tally{}, voteerr.New(voteerr.KindDecryptionMismatch, "parse", err)
	}
	return tally, nil
}
