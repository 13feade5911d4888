// Package codec validates and serializes the identifiers exchanged with the
// ledger and the encryption engine: account and contract addresses,
// ciphertext handles, signatures and other hex payloads.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zvote/voteerr"
)

const (
	AddressLength   = common.AddressLength
	HandleLength    = 32
	SignatureLength = 65
)

var (
	ErrEmptyHex        = errors.New("empty hex string")
	ErrInvalidHex      = errors.New("invalid hex string")
	ErrHandleLength    = errors.New("handle must be 32 bytes")
	ErrSignatureLength = errors.New("signature must be 65 bytes")
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address. Case is
// not significant and checksums are not enforced.
func IsAddress(s string) bool {
	if len(s) != 2+2*AddressLength || !has0xPrefix(s) {
		return false
	}
	return isHex(s[2:])
}

// ParseAddress validates s and returns the address. Failures are
// InvalidIdentity errors.
func ParseAddress(s string) (common.Address, error) {
	if !IsAddress(s) {
		return common.Address{}, voteerr.Newf(
			voteerr.KindInvalidIdentity,
			"parse-address",
			"malformed address %q",
			s,
		)
	}
	return common.HexToAddress(s), nil
}

// LowerHex renders an address as lowercase 0x hex.
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// SameAddress compares two textual addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// EncodeHex renders b as canonical lowercase 0x hex.
func EncodeHex(b []byte) string {
	return hexutil.Encode(b)
}

// DecodeHex accepts hex with or without a 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = StripHexPrefix(s)
	if s == "" {
		return nil, ErrEmptyHex
	}
	if len(s)%2 == 1 {
		return nil, fmt.Errorf("%w: odd length", ErrInvalidHex)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}

// StripHexPrefix removes a leading 0x or 0X.
func StripHexPrefix(s string) string {
	if has0xPrefix(s) {
		return s[2:]
	}
	return s
}

// ParseSignature decodes a 65-byte r||s||v signature.
func ParseSignature(s string) ([]byte, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) != SignatureLength {
		return nil, fmt.Errorf("%w: got %d", ErrSignatureLength, len(b))
	}
	return b, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHex(s string) bool {
	for _, c := range []byte(s) {
		switch {
		case '0' <= c && c <= '9':
		case 'a' <= c && c <= 'f':
		case 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Handle is an opaque, fixed-width reference to a ciphertext held by the
// ledger.
type Handle [HandleLength]byte

func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleLength {
		return h, fmt.Errorf("%w: got %d", ErrHandleLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HandleFromBig left-pads an integer handle to 32 bytes.
func HandleFromBig(v *big.Int) (Handle, error) {
	var h Handle
	if v == nil || v.Sign() < 0 || v.BitLen() > HandleLength*8 {
		return h, fmt.Errorf("%w: integer out of range", ErrHandleLength)
	}
	v.FillBytes(h[:])
	return h, nil
}

// ParseHandle accepts 64 hex characters with or without a 0x prefix.
func ParseHandle(s string) (Handle, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return Handle{}, err
	}
	return HandleFromBytes(b)
}

// Hex is the canonical lowercase 0x form.
func (h Handle) Hex() string {
	return hexutil.Encode(h[:])
}

// Unprefixed is the 64 character lowercase form without 0x.
func (h Handle) Unprefixed() string {
	return hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
