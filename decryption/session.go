package decryption

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"zvote/encryption"
)

type State int

const (
	StateIdle State = iota
	StateAuthorizationRequired
	StateKeyGenerated
	StateMessageSigned
	StateDecryptRequested
	StateDecrypted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizationRequired:
		return "authorization_required"
	case StateKeyGenerated:
		return "key_generated"
	case StateMessageSigned:
		return "message_signed"
	case StateDecryptRequested:
		return "decrypt_requested"
	case StateDecrypted:
		return "decrypted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDecrypted || s == StateFailed
}

// Session is one decryption attempt. It is never reused: the keypair is
// wiped when the attempt returns.
type Session struct {
	ID                  uuid.UUID
	ProposalID          uint64
	Keypair             *encryption.Keypair
	AuthorizedContracts []common.Address
	ValidFrom           time.Time
	ValidityDays        int
	Signature           string
	State               State
}

func newSession(proposalID uint64) *Session {
	return &Session{
		ID:         uuid.New(),
		ProposalID: proposalID,
		State:      StateIdle,
	}
}
