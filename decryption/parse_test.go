package decryption_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zvote/codec"
	"zvote/decryption"
	"zvote/models"
)

func handles(t *testing.T) (codec.Handle, codec.Handle) {
	t.Helper()
	yes, err := codec.ParseHandle("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	no, err := codec.ParseHandle("0x" + strings.Repeat("cd", 32))
	require.NoError(t, err)
	return yes, no
}

func TestParseTallyAcceptsAnyHandleForm(t *testing.T) {
	yes, no := handles(t)
	forms := []map[string]*big.Int{
		{yes.Hex(): big.NewInt(7), no.Hex(): big.NewInt(3)},
		{yes.Unprefixed(): big.NewInt(7), no.Unprefixed(): big.NewInt(3)},
		{strings.ToUpper(yes.Unprefixed()): big.NewInt(7), "0x" + strings.ToUpper(no.Unprefixed()): big.NewInt(3)},
	}
	for _, values := range forms {
		tally, err := decryption.ParseTally(values, yes, no, nil)
		require.NoError(t, err)
		assert.Equal(t, models.Tally{YesVotes: 7, NoVotes: 3}, tally)
	}
}

func TestParseTallyMissingHandleIsZero(t *testing.T) {
	yes, no := handles(t)
	tally, err := decryption.ParseTally(map[string]*big.Int{yes.Unprefixed(): big.NewInt(4)}, yes, no, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{YesVotes: 4}, tally)

	tally, err = decryption.ParseTally(map[string]*big.Int{}, yes, no, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{}, tally)
}

func TestParseTallyMismatches(t *testing.T) {
	yes, no := handles(t)
	three := uint64(3)
	tests := []struct {
		name     string
		values   map[string]*big.Int
		expected *uint64
		want     error
	}{
		{"unrelated handles", map[string]*big.Int{"0x01": big.NewInt(1)}, nil, decryption.ErrNoRequestedValue},
		{"negative", map[string]*big.Int{yes.Hex(): big.NewInt(-1)}, nil, decryption.ErrValueOutOfRange},
		{"over uint32", map[string]*big.Int{no.Hex(): new(big.Int).Lsh(big.NewInt(1), 32)}, nil, decryption.ErrValueOutOfRange},
		{"total", map[string]*big.Int{yes.Hex(): big.NewInt(1), no.Hex(): big.NewInt(1)}, &three, decryption.ErrTotalMismatch},
		{"conflict", map[string]*big.Int{yes.Hex(): big.NewInt(1), yes.Unprefixed(): big.NewInt(2)}, nil, decryption.ErrConflictingValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decryption.ParseTally(tt.values, yes, no, tt.expected)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseTallyNilValuesDoNotConflict(t *testing.T) {
	yes, no := handles(t)
	tally, err := decryption.ParseTally(map[string]*big.Int{
		yes.Hex():        nil,
		yes.Unprefixed(): nil,
		no.Hex():         big.NewInt(2),
	}, yes, no, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{NoVotes: 2}, tally)

	// A nil form next to a concrete one yields the concrete value.
	tally, err = decryption.ParseTally(map[string]*big.Int{
		yes.Hex():        nil,
		yes.Unprefixed(): big.NewInt(5),
	}, yes, no, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{YesVotes: 5}, tally)
}
