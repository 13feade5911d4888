package encryption

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
)

// InputRegistrar hands locally produced ciphertexts to the network, which
// stores them and answers with one handle each plus a proof binding them to
// contract and user.
type InputRegistrar interface {
	RegisterInput(ctx context.Context, contract, user common.Address, ciphertexts [][]byte) (*EncryptedInput, error)
}

// PaillierInput encrypts values under the network's public Paillier key and
// registers them in one batch.
type PaillierInput struct {
	scheme    *PaillierScheme
	registrar InputRegistrar
	contract  common.Address
	user      common.Address

	mu     sync.Mutex
	values []uint32
}

func NewPaillierInput(scheme *PaillierScheme, registrar InputRegistrar, contract, user common.Address) *PaillierInput {
	return &PaillierInput{
		scheme:    scheme,
		registrar: registrar,
		contract:  contract,
		user:      user,
	}
}

func (p *PaillierInput) Add32(value uint32) error {
	if p.scheme == nil {
		return ErrNoPublicKey
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, value)
	return nil
}

func (p *PaillierInput) Encrypt(ctx context.Context) (*EncryptedInput, error) {
	p.mu.Lock()
	values := append([]uint32(nil), p.values...)
	p.mu.Unlock()
	if len(values) == 0 {
		return nil, errors.New("no values added to input")
	}
	ciphertexts := make([][]byte, 0, len(values))
	for _, v := range values {
		ct, err := p.scheme.Encrypt(new(big.Int).SetUint64(uint64(v)))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt input value: %w", err)
		}
		ciphertexts = append(ciphertexts, ct)
	}
	return p.registrar.RegisterInput(ctx, p.contract, p.user, ciphertexts)
}

// OpenSealedValues decrypts a user-decrypt response keyed by handle text.
// Keys keep the form the network used.
func OpenSealedValues(keypair *Keypair, sealed map[string][]byte) (map[string]*big.Int, error) {
	if keypair == nil || len(keypair.PrivateKey) == 0 {
		return nil, errors.New("keypair has no private key")
	}
	out := make(map[string]*big.Int, len(sealed))
	for key, ct := range sealed {
		h, err := codec.ParseHandle(key)
		if err != nil {
			return nil, fmt.Errorf("invalid handle %q in response: %w", key, err)
		}
		v, err := OpenValue(keypair.PrivateKey, h[:], ct)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}
