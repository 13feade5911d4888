package encryption

import "math/big"

// HomomorphicEncryptionScheme is an additively homomorphic scheme used to
// hold encrypted tallies. Sub is only meaningful when the result is known to
// be non-negative.
type HomomorphicEncryptionScheme interface {
	Name() string
	KeySize() int

	Encrypt(value *big.Int) ([]byte, error)
	Decrypt(ciphertext []byte) (*big.Int, error)
	Add(ciphertext1, ciphertext2 []byte) ([]byte, error)
	Sub(ciphertext1, ciphertext2 []byte) ([]byte, error)
}
