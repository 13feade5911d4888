package decryption

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"zvote/codec"
	"zvote/models"
)

var (
	ErrValueOutOfRange  = errors.New("decrypted value outside uint32 range")
	ErrTotalMismatch    = errors.New("decrypted tally does not match expected total")
	ErrNoRequestedValue = errors.New("response contains none of the requested handles")
	ErrConflictingValue = errors.New("response reports one handle with two values")
)

// ParseTally extracts the yes and no counts from a user-decrypt response.
// Handles are matched with or without 0x and in any case; a handle missing
// from the response counts as zero. expectedTotal, when set, must equal
// yes+no.
func ParseTally(values map[string]*big.Int, yes, no codec.Handle, expectedTotal *uint64) (models.Tally, error) {
	normalized := make(map[string]*big.Int, len(values))
	for k, v := range values {
		key := strings.ToLower(codec.StripHexPrefix(k))
		prev, ok := normalized[key]
		if !ok || prev == nil {
			normalized[key] = v
			continue
		}
		// A nil value carries nothing to conflict with.
		if v != nil && prev.Cmp(v) != 0 {
			return models.Tally{}, fmt.Errorf("%w: %s", ErrConflictingValue, key)
		}
	}

	yesVal, yesFound := normalized[yes.Unprefixed()]
	noVal, noFound := normalized[no.Unprefixed()]
	if len(values) > 0 && !yesFound && !noFound {
		return models.Tally{}, ErrNoRequestedValue
	}

	yesCount, err := countValue(yesVal)
	if err != nil {
		return models.Tally{}, fmt.Errorf("yes votes: %w", err)
	}
	noCount, err := countValue(noVal)
	if err != nil {
		return models.Tally{}, fmt.Errorf("no votes: %w", err)
	}
	tally := models.Tally{YesVotes: yesCount, NoVotes: noCount}
	if expectedTotal != nil && tally.Total() != *expectedTotal {
		return models.Tally{}, fmt.Errorf("%w: got %d, expected %d", ErrTotalMismatch, tally.Total(), *expectedTotal)
	}
	return tally, nil
}

func countValue(v *big.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || v.Cmp(big.NewInt(math.MaxUint32)) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrValueOutOfRange, v)
	}
	return v.Uint64(), nil
}
