package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits stored for every amount.
const Scale int32 = 4

// NormalizeAmount rejects amounts with more fractional digits than scale
// allows and returns amt truncated to that scale.
func NormalizeAmount(amt decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if scale < 0 || scale > Scale {
		return decimal.Zero, fmt.Errorf("%w: unsupported scale %d", ErrValidation, scale)
	}
	t := amt.Truncate(scale)
	if !t.Equal(amt) {
		return decimal.Zero, fmt.Errorf("%w: amount %s exceeds %d fractional digits", ErrValidation, amt.String(), scale)
	}
	return t, nil
}
