package ledger_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zvote/ledger"
)

func TestDecodeProposalRejectsMalformedOutput(t *testing.T) {
	tests := []struct {
		name string
		out  []interface{}
	}{
		{"too few values", []interface{}{big.NewInt(1)}},
		{"wrong creator type", []interface{}{
			big.NewInt(1), "0xabc", "t", "d", big.NewInt(2), big.NewInt(1), true,
		}},
		{"deadline overflow", []interface{}{
			big.NewInt(1), common.Address{}, "t", "d", new(big.Int).Lsh(big.NewInt(1), 80), big.NewInt(1), true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.DecodeProposal(tt.out)
			assert.ErrorIs(t, err, ledger.ErrUnexpectedOutput)
		})
	}
}

func TestDecodeProposalIDs(t *testing.T) {
	ids, err := ledger.DecodeProposalIDs([]interface{}{[]*big.Int{big.NewInt(4), big.NewInt(9)}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 9}, ids)

	_, err = ledger.DecodeProposalIDs([]interface{}{[]uint64{1}})
	assert.ErrorIs(t, err, ledger.ErrUnexpectedOutput)
}
