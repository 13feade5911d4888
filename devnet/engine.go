package devnet

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/encryption"
)

var ErrEngineNotReady = errors.New("devnet engine not ready")

// LocalEngine implements encryption.Engine directly against a Network in
// the same process.
type LocalEngine struct {
	network       *Network
	scheme        atomic.Pointer[encryption.PaillierScheme]
	notReadyInits atomic.Int32
}

type LocalEngineOptionFunc func(*LocalEngine)

// WithUnavailableInits makes the first n Init calls fail, simulating a
// library that is still loading.
func WithUnavailableInits(n int) LocalEngineOptionFunc {
	return func(e *LocalEngine) {
		e.notReadyInits.Store(int32(n)) //nolint:gosec // small test counts
	}
}

func NewLocalEngine(network *Network, opts ...LocalEngineOptionFunc) *LocalEngine {
	e := &LocalEngine{network: network}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalEngine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.notReadyInits.Add(-1) >= 0 {
		return ErrEngineNotReady
	}
	scheme, err := encryption.NewPaillierPublicScheme(e.network.PublicKey())
	if err != nil {
		return err
	}
	e.scheme.Store(scheme)
	return nil
}

func (e *LocalEngine) CreateEncryptedInput(contract, user common.Address) encryption.InputBuilder {
	return encryption.NewPaillierInput(e.scheme.Load(), e, contract, user)
}

func (e *LocalEngine) RegisterInput(ctx context.Context, contract, user common.Address, ciphertexts [][]byte) (*encryption.EncryptedInput, error) {
	return e.network.RegisterInput(ctx, contract, user, ciphertexts)
}

func (e *LocalEngine) GenerateKeypair() (*encryption.Keypair, error) {
	return encryption.GenerateKeypair()
}

func (e *LocalEngine) UserDecrypt(ctx context.Context, req *encryption.UserDecryptRequest) (map[string]*big.Int, error) {
	if req.Keypair == nil {
		return nil, errors.New("missing keypair")
	}
	sig, err := codec.DecodeHex(req.Signature)
	if err != nil {
		return nil, err
	}
	sealed, err := e.network.UserDecrypt(ctx, &UserDecryptParams{
		Pairs:             req.Pairs,
		PublicKey:         req.Keypair.PublicKey,
		Signature:         sig,
		ContractAddresses: req.ContractAddresses,
		UserAddress:       req.UserAddress,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	})
	if err != nil {
		return nil, err
	}
	return encryption.OpenSealedValues(req.Keypair, sealed)
}
