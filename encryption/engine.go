package encryption

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
)

// Engine is the contract of the homomorphic encryption library. The core
// relies on it for input encryption, ephemeral keypairs and user decryption;
// the cryptosystem itself lives behind it.
type Engine interface {
	// Init loads whatever the engine needs before first use. It may be called
	// repeatedly until it succeeds.
	Init(ctx context.Context) error
	CreateEncryptedInput(contract, user common.Address) InputBuilder
	GenerateKeypair() (*Keypair, error)
	// UserDecrypt returns plaintexts keyed by handle, in whichever textual
	// form the engine reports them.
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (map[string]*big.Int, error)
}

// InputBuilder accumulates plaintext values bound to one (contract, user)
// pair and turns them into handles plus one input proof.
type InputBuilder interface {
	Add32(value uint32) error
	Encrypt(ctx context.Context) (*EncryptedInput, error)
}

type EncryptedInput struct {
	Handles    []codec.Handle
	InputProof []byte
}

type HandleContractPair struct {
	Handle   codec.Handle   `json:"handle"`
	Contract common.Address `json:"contractAddress"`
}

// UserDecryptRequest carries everything the decryption service needs to
// authorize a re-encryption for one user. Signature is hex without 0x.
type UserDecryptRequest struct {
	Pairs             []HandleContractPair
	Keypair           *Keypair
	Signature         string
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int
}
