// Package wallet holds a local signing identity: it signs EIP-712 messages
// for decryption authorizations and transactions for the voting contract.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"zvote/codec"
	"zvote/encryption"
)

var ErrDeclined = errors.New("signature request declined")

type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func newWallet(key *ecdsa.PrivateKey, chainID uint64) *Wallet {
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).SetUint64(chainID),
	}
}

// FromHex loads a raw secp256k1 private key, with or without 0x.
func FromHex(hexKey string, chainID uint64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(codec.StripHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newWallet(key, chainID), nil
}

// FromKeystore decrypts a go-ethereum keystore file.
func FromKeystore(path, passphrase string, chainID uint64) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return newWallet(key.PrivateKey, chainID), nil
}

func Generate(chainID uint64) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newWallet(key, chainID), nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

func (w *Wallet) ChainID() uint64 {
	return w.chainID.Uint64()
}

// SignTypedData returns a 0x-prefixed 65-byte signature with v in {27, 28},
// the form wallets hand back for eth_signTypedData_v4.
func (w *Wallet) SignTypedData(ctx context.Context, td apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrDeclined
	}
	hash, err := encryption.TypedDataHash(td)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return codec.EncodeHex(sig), nil
}

// TransactOpts returns signing options for contract writes.
func (w *Wallet) TransactOpts() (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
}
