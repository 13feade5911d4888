package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	paillier "github.com/roasbeef/go-go-gadget-paillier"
)

var (
	ErrNoPublicKey  = errors.New("public key not set")
	ErrNoPrivateKey = errors.New("private key not set")
)

var _ HomomorphicEncryptionScheme = (*PaillierScheme)(nil)

// PaillierScheme adapts go-go-gadget-paillier to HomomorphicEncryptionScheme.
// A scheme built from a public modulus only can encrypt and combine
// ciphertexts but not decrypt.
type PaillierScheme struct {
	keySize    int
	privateKey *paillier.PrivateKey
	publicKey  *paillier.PublicKey
}

func NewPaillierScheme(keySize int) *PaillierScheme {
	return &PaillierScheme{keySize: keySize}
}

// NewPaillierPublicScheme rebuilds an encrypt-only scheme from the modulus N
// published by the network.
func NewPaillierPublicScheme(n *big.Int) (*PaillierScheme, error) {
	if n == nil || n.Sign() <= 0 {
		return nil, errors.New("invalid paillier modulus")
	}
	return &PaillierScheme{
		keySize: n.BitLen(),
		publicKey: &paillier.PublicKey{
			N:        new(big.Int).Set(n),
			G:        new(big.Int).Add(n, big.NewInt(1)),
			NSquared: new(big.Int).Mul(n, n),
		},
	}, nil
}

// Initialize generates a fresh key pair.
func (p *PaillierScheme) Initialize() error {
	var err error
	p.privateKey, err = paillier.GenerateKey(rand.Reader, p.keySize)
	if err != nil {
		return fmt.Errorf("failed to generate Paillier key: %w", err)
	}
	p.publicKey = &p.privateKey.PublicKey
	return nil
}

func (p *PaillierScheme) Name() string {
	return fmt.Sprintf("Paillier-%d", p.keySize)
}

func (p *PaillierScheme) KeySize() int {
	return p.keySize
}

// PublicModulus returns N, or nil before Initialize.
func (p *PaillierScheme) PublicModulus() *big.Int {
	if p.publicKey == nil {
		return nil
	}
	return new(big.Int).Set(p.publicKey.N)
}

func (p *PaillierScheme) CanDecrypt() bool {
	return p.privateKey != nil
}

func (p *PaillierScheme) Encrypt(value *big.Int) ([]byte, error) {
	if p.publicKey == nil {
		return nil, ErrNoPublicKey
	}
	if value == nil || value.Sign() < 0 {
		return nil, errors.New("plaintext must be a non-negative integer")
	}
	return paillier.Encrypt(p.publicKey, value.Bytes())
}

func (p *PaillierScheme) Decrypt(ciphertext []byte) (*big.Int, error) {
	if p.privateKey == nil {
		return nil, ErrNoPrivateKey
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("ciphertext is empty")
	}
	plaintext, err := paillier.Decrypt(p.privateKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return new(big.Int).SetBytes(plaintext), nil
}

func (p *PaillierScheme) Add(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	if p.publicKey == nil {
		return nil, ErrNoPublicKey
	}
	return paillier.AddCipher(p.publicKey, ciphertext1, ciphertext2), nil
}

// Sub computes E(m1 - m2) as c1 * c2^-1 mod N^2.
func (p *PaillierScheme) Sub(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	if p.publicKey == nil {
		return nil, ErrNoPublicKey
	}
	c1 := new(big.Int).SetBytes(ciphertext1)
	c2 := new(big.Int).SetBytes(ciphertext2)
	inv := new(big.Int).ModInverse(c2, p.publicKey.NSquared)
	if inv == nil {
		return nil, errors.New("ciphertext is not invertible")
	}
	return new(big.Int).Mod(new(big.Int).Mul(c1, inv), p.publicKey.NSquared).Bytes(), nil
}
