// Package devnet is an in-process stand-in for the confidential voting
// network: a coprocessor that accepts encrypted inputs and evaluates tallies,
// a key management service that answers authorized user-decrypt requests,
// and a voting contract with the same surface as the deployed one.
//
// Ciphertexts are additively homomorphic Paillier values.
package devnet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"zvote/codec"
	"zvote/encryption"
)

const (
	DefaultKeySize = 1024
	DefaultChainID = 31337

	// MaxDurationDays bounds a user-decrypt authorization.
	MaxDurationDays = 365
	// startSkew tolerates clocks running slightly ahead of the network.
	startSkew = 5 * time.Minute
)

// DefaultDecryptionContract is the verifying contract of the EIP-712 domain
// the network checks user-decrypt signatures against.
var DefaultDecryptionContract = common.HexToAddress("0x00000000000000000000000000000000000D3C40")

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidProof      = errors.New("invalid input proof")
	ErrUnknownHandle     = errors.New("unknown handle")
	ErrNotAllowed        = errors.New("handle not allowed")
	ErrInvalidSignature  = errors.New("invalid user-decrypt signature")
	ErrRequestExpired    = errors.New("user-decrypt request outside its validity window")
	ErrInvalidRequest    = errors.New("invalid user-decrypt request")
)

// Network holds the coprocessor and KMS state.
type Network struct {
	scheme      *encryption.PaillierScheme
	coprocessor *ecdsa.PrivateKey
	domain      encryption.Domain
	keySize     int
	now         func() time.Time
	logger      *slog.Logger

	mu          sync.RWMutex
	ciphertexts map[codec.Handle][]byte
	acl         map[codec.Handle]map[common.Address]bool
}

type NetworkOptionFunc func(*Network)

func WithNetworkLogger(logger *slog.Logger) NetworkOptionFunc {
	return func(n *Network) {
		n.logger = logger
	}
}

func WithKeySize(bits int) NetworkOptionFunc {
	return func(n *Network) {
		n.keySize = bits
	}
}

func WithClock(now func() time.Time) NetworkOptionFunc {
	return func(n *Network) {
		n.now = now
	}
}

// WithDecryptionDomain sets the chain id and verifying contract used for
// user-decrypt signatures.
func WithDecryptionDomain(chainID uint64, verifyingContract common.Address) NetworkOptionFunc {
	return func(n *Network) {
		n.domain = encryption.NewDomain(chainID, verifyingContract)
	}
}

func NewNetwork(opts ...NetworkOptionFunc) (*Network, error) {
	n := &Network{
		keySize:     DefaultKeySize,
		domain:      encryption.NewDomain(DefaultChainID, DefaultDecryptionContract),
		now:         time.Now,
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		ciphertexts: make(map[codec.Handle][]byte),
		acl:         make(map[codec.Handle]map[common.Address]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.scheme = encryption.NewPaillierScheme(n.keySize)
	if err := n.scheme.Initialize(); err != nil {
		return nil, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate coprocessor key: %w", err)
	}
	n.coprocessor = key
	n.logger.Info("devnet network ready",
		"component", "devnet",
		"scheme", n.scheme.Name(),
		"coprocessor", n.CoprocessorAddress().Hex(),
		"chain_id", n.domain.ChainID,
	)
	return n, nil
}

// PublicKey returns the Paillier modulus clients encrypt under.
func (n *Network) PublicKey() *big.Int {
	return n.scheme.PublicModulus()
}

func (n *Network) CoprocessorAddress() common.Address {
	return crypto.PubkeyToAddress(n.coprocessor.PublicKey)
}

func (n *Network) Domain() encryption.Domain {
	return n.domain
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func inputDigest(handles []codec.Handle, contract, user common.Address) []byte {
	parts := make([][]byte, 0, len(handles)+2)
	for i := range handles {
		parts = append(parts, handles[i][:])
	}
	parts = append(parts, contract.Bytes(), user.Bytes())
	return keccak(parts...)
}

func (n *Network) validCiphertext(ct []byte) bool {
	nsq := new(big.Int).Exp(n.scheme.PublicModulus(), big.NewInt(2), nil)
	c := new(big.Int).SetBytes(ct)
	return c.Sign() > 0 && c.Cmp(nsq) < 0
}

// RegisterInput stores client ciphertexts and returns their handles with a
// proof signed by the coprocessor. The proof layout is
// count(1) || handles(32*count) || signature(65).
func (n *Network) RegisterInput(_ context.Context, contract, user common.Address, ciphertexts [][]byte) (*encryption.EncryptedInput, error) {
	if len(ciphertexts) == 0 || len(ciphertexts) > 255 {
		return nil, fmt.Errorf("%w: expected 1 to 255 ciphertexts", ErrInvalidCiphertext)
	}
	handles := make([]codec.Handle, 0, len(ciphertexts))
	for i, ct := range ciphertexts {
		if !n.validCiphertext(ct) {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidCiphertext, i)
		}
		h, err := codec.HandleFromBytes(keccak(ct, contract.Bytes(), user.Bytes(), []byte{byte(i)}))
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	sig, err := crypto.Sign(inputDigest(handles, contract, user), n.coprocessor)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input proof: %w", err)
	}

	n.mu.Lock()
	for i, h := range handles {
		n.ciphertexts[h] = append([]byte(nil), ciphertexts[i]...)
		n.allowLocked(h, contract)
	}
	n.mu.Unlock()

	proof := make([]byte, 0, 1+len(handles)*32+len(sig))
	proof = append(proof, byte(len(handles)))
	for i := range handles {
		proof = append(proof, handles[i][:]...)
	}
	proof = append(proof, sig...)

	n.logger.Debug("registered encrypted input",
		"component", "devnet",
		"contract", contract.Hex(),
		"handles", len(handles),
	)
	return &encryption.EncryptedInput{Handles: handles, InputProof: proof}, nil
}

// VerifyInputProof checks that handle was registered for (contract, user)
// and that the proof carries the coprocessor's signature.
func (n *Network) VerifyInputProof(handle codec.Handle, contract, user common.Address, proof []byte) error {
	if len(proof) < 1 {
		return fmt.Errorf("%w: empty", ErrInvalidProof)
	}
	count := int(proof[0])
	if count == 0 || len(proof) != 1+count*32+crypto.SignatureLength {
		return fmt.Errorf("%w: bad length", ErrInvalidProof)
	}
	handles := make([]codec.Handle, count)
	found := false
	for i := range handles {
		copy(handles[i][:], proof[1+i*32:1+(i+1)*32])
		if handles[i] == handle {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: handle not covered", ErrInvalidProof)
	}
	sig := proof[1+count*32:]
	pub, err := crypto.SigToPub(inputDigest(handles, contract, user), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if crypto.PubkeyToAddress(*pub) != n.CoprocessorAddress() {
		return fmt.Errorf("%w: not signed by coprocessor", ErrInvalidProof)
	}
	n.mu.RLock()
	_, ok := n.ciphertexts[handle]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return nil
}

func (n *Network) storeComputed(ct []byte) codec.Handle {
	h, _ := codec.HandleFromBytes(keccak([]byte("computed"), ct))
	n.mu.Lock()
	n.ciphertexts[h] = ct
	n.mu.Unlock()
	return h
}

func (n *Network) ciphertext(h codec.Handle) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ct, ok := n.ciphertexts[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return ct, nil
}

// TrivialEncrypt produces a fresh handle encrypting v.
func (n *Network) TrivialEncrypt(v uint64) (codec.Handle, error) {
	ct, err := n.scheme.Encrypt(new(big.Int).SetUint64(v))
	if err != nil {
		return codec.Handle{}, err
	}
	return n.storeComputed(ct), nil
}

func (n *Network) Add(a, b codec.Handle) (codec.Handle, error) {
	return n.binary(a, b, n.scheme.Add)
}

func (n *Network) Sub(a, b codec.Handle) (codec.Handle, error) {
	return n.binary(a, b, n.scheme.Sub)
}

func (n *Network) binary(a, b codec.Handle, op func(c1, c2 []byte) ([]byte, error)) (codec.Handle, error) {
	ca, err := n.ciphertext(a)
	if err != nil {
		return codec.Handle{}, err
	}
	cb, err := n.ciphertext(b)
	if err != nil {
		return codec.Handle{}, err
	}
	ct, err := op(ca, cb)
	if err != nil {
		return codec.Handle{}, err
	}
	return n.storeComputed(ct), nil
}

// Allow grants addrs access to h.
func (n *Network) Allow(h codec.Handle, addrs ...common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range addrs {
		n.allowLocked(h, a)
	}
}

func (n *Network) allowLocked(h codec.Handle, addr common.Address) {
	set, ok := n.acl[h]
	if !ok {
		set = make(map[common.Address]bool)
		n.acl[h] = set
	}
	set[addr] = true
}

func (n *Network) IsAllowed(h codec.Handle, addr common.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.acl[h][addr]
}

// UserDecryptParams is a user-decrypt request as the KMS sees it.
type UserDecryptParams struct {
	Pairs             []encryption.HandleContractPair
	PublicKey         []byte
	Signature         []byte
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int
}

// UserDecrypt checks the signed authorization and returns every requested
// plaintext sealed under the user's ephemeral key, keyed by unprefixed
// handle hex.
func (n *Network) UserDecrypt(_ context.Context, p *UserDecryptParams) (map[string][]byte, error) {
	if len(p.Pairs) == 0 || len(p.ContractAddresses) == 0 || len(p.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: missing handles, contracts or public key", ErrInvalidRequest)
	}
	if p.DurationDays < 1 || p.DurationDays > MaxDurationDays {
		return nil, fmt.Errorf("%w: duration %d days", ErrInvalidRequest, p.DurationDays)
	}
	now := n.now()
	start := time.Unix(p.StartTimestamp, 0)
	end := start.Add(time.Duration(p.DurationDays) * 24 * time.Hour)
	if start.After(now.Add(startSkew)) || !now.Before(end) {
		return nil, ErrRequestExpired
	}

	td := encryption.UserDecryptTypedData(n.domain, p.PublicKey, p.ContractAddresses, p.StartTimestamp, p.DurationDays)
	signer, err := encryption.RecoverTypedDataSigner(td, p.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != p.UserAddress {
		return nil, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Hex())
	}

	listed := make(map[common.Address]bool, len(p.ContractAddresses))
	for _, c := range p.ContractAddresses {
		listed[c] = true
	}
	out := make(map[string][]byte, len(p.Pairs))
	for _, pair := range p.Pairs {
		if !listed[pair.Contract] {
			return nil, fmt.Errorf("%w: contract %s not authorized", ErrNotAllowed, pair.Contract.Hex())
		}
		if !n.IsAllowed(pair.Handle, p.UserAddress) || !n.IsAllowed(pair.Handle, pair.Contract) {
			return nil, fmt.Errorf("%w: %s", ErrNotAllowed, pair.Handle)
		}
		ct, err := n.ciphertext(pair.Handle)
		if err != nil {
			return nil, err
		}
		value, err := n.scheme.Decrypt(ct)
		if err != nil {
			return nil, err
		}
		sealed, err := encryption.SealValue(p.PublicKey, pair.Handle[:], value)
		if err != nil {
			return nil, err
		}
		out[pair.Handle.Unprefixed()] = sealed
	}
	n.logger.Info("served user decrypt",
		"component", "devnet",
		"user", p.UserAddress.Hex(),
		"handles", len(out),
	)
	return out, nil
}
