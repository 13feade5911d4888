package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

const sealedValueLength = 32

// Keypair is an ephemeral key used to receive re-encrypted plaintexts. It is
// generated per decryption attempt and wiped afterwards.
type Keypair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKeypair creates a secp256k1 keypair suitable for ECIES.
func GenerateKeypair() (*Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{
		PublicKey:  crypto.FromECDSAPub(&key.PublicKey),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

// Wipe zeroes the private key.
func (k *Keypair) Wipe() {
	if k == nil {
		return
	}
	for i := range k.PrivateKey {
		k.PrivateKey[i] = 0
	}
	k.PrivateKey = nil
}

// SealValue re-encrypts a plaintext under a user's ephemeral public key. The
// shared info binds the result to one handle.
func SealValue(publicKey []byte, handle []byte, value *big.Int) ([]byte, error) {
	if value == nil || value.Sign() < 0 || value.BitLen() > sealedValueLength*8 {
		return nil, errors.New("value out of range")
	}
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	plain := make([]byte, sealedValueLength)
	value.FillBytes(plain)
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plain, handle, nil)
}

// OpenValue reverses SealValue with the ephemeral private key.
func OpenValue(privateKey []byte, handle []byte, sealed []byte) (*big.Int, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	plain, err := ecies.ImportECDSA(key).Decrypt(sealed, handle, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed value: %w", err)
	}
	return new(big.Int).SetBytes(plain), nil
}
