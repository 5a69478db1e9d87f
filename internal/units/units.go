// Package units converts between ledger base units and human readable
// whole-coin amounts.
package units

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/paylock/internal/common"
)

// DefaultDecimals is the number of base-unit digits in one coin.
const DefaultDecimals = 9

// Format renders amount base units as a decimal coin amount with trailing
// zeros trimmed, e.g. 1500000000 -> "1.5".
func Format(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

// Parse converts a decimal coin amount to base units. Amounts finer than
// one base unit, negative amounts and amounts beyond uint64 are rejected.
func Parse(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", common.ErrValidation, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: amount %q is negative", common.ErrValidation, s)
	}
	base := d.Shift(decimals)
	whole := base.Truncate(0)
	if !base.Equal(whole) {
		return 0, fmt.Errorf("%w: amount %q is finer than one base unit", common.ErrValidation, s)
	}
	v, err := strconv.ParseUint(whole.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q out of range", common.ErrValidation, s)
	}
	return v, nil
}
