package codec_test

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zvote/codec"
	"zvote/voteerr"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"lowercase", "0x5fbdb2315678afecb367f032d93f642f64180aa3", true},
		{"checksummed", "0x5FbDB2315678afecb367f032d93F642f64180aa3", true},
		{"uppercase prefix", "0X5FBDB2315678AFECB367F032D93F642F64180AA3", true},
		{"no prefix", "5fbdb2315678afecb367f032d93f642f64180aa3", false},
		{"short", "0x5fbdb2315678afecb367f032d93f642f64180a", false},
		{"long", "0x5fbdb2315678afecb367f032d93f642f64180aa3aa", false},
		{"non hex", "0x5fbdb2315678afecb367f032d93f642f64180zz3", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := codec.ParseAddress(tc.input)
			if !tc.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, voteerr.ErrInvalidIdentity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(tc.input), codec.LowerHex(addr))
		})
	}
}

func TestHandleCanonicalForms(t *testing.T) {
	raw := "0x" + strings.Repeat("Ab", 32)
	h, err := codec.ParseHandle(raw)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(raw), h.Hex())
	assert.Len(t, h.Hex(), 66)
	assert.Len(t, h.Unprefixed(), 64)

	again, err := codec.ParseHandle(h.Unprefixed())
	require.NoError(t, err)
	assert.Equal(t, h, again)

	_, err = codec.ParseHandle("0x1234")
	assert.ErrorIs(t, err, codec.ErrHandleLength)
}

func TestHandleFromBig(t *testing.T) {
	h, err := codec.HandleFromBig(big.NewInt(0xff))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("0", 62)+"ff", h.Unprefixed())

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = codec.HandleFromBig(tooBig)
	assert.Error(t, err)
}

func TestParseSignature(t *testing.T) {
	sig := "0x" + strings.Repeat("11", 65)
	b, err := codec.ParseSignature(sig)
	require.NoError(t, err)
	assert.Len(t, b, 65)

	_, err = codec.ParseSignature(codec.StripHexPrefix(sig))
	require.NoError(t, err)

	_, err = codec.ParseSignature("0x" + strings.Repeat("11", 64))
	assert.ErrorIs(t, err, codec.ErrSignatureLength)

	_, err = codec.ParseSignature("not-a-signature")
	assert.ErrorIs(t, err, codec.ErrInvalidHex)
}

func TestEncodeHexIsLowercase(t *testing.T) {
	assert.Equal(t, "0xdeadbeef", codec.EncodeHex([]byte{0xde, 0xad, 0xbe, 0xef}))
	b, err := codec.DecodeHex("0XDEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
}
