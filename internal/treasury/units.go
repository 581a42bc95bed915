package treasury

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// Units is the decimal precision of a token. Configuration may name it the
// way the ERC20 tables do ("mwei" for 6 decimals, "ether" for 18) or give
// the number of decimals directly.
type Units struct {
	name     string
	decimals int32
}

var namedUnits = map[string]int32{
	"wei":    0,
	"kwei":   3,
	"mwei":   6,
	"gwei":   9,
	"szabo":  12,
	"finney": 15,
	"ether":  18,
}

// Ether is the 18 decimal unit used by ETH and WETH.
var Ether = Units{name: "ether", decimals: 18}

// ParseUnits reads a units descriptor.
func ParseUnits(desc string) (Units, error) {
	desc = strings.ToLower(strings.TrimSpace(desc))
	if d, ok := namedUnits[desc]; ok {
		return Units{name: desc, decimals: d}, nil
	}
	n, err := strconv.Atoi(desc)
	if err != nil || n < 0 || n > 77 {
		return Units{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown units %q", desc)
	}
	return Units{name: desc, decimals: int32(n)}, nil
}

// UnitsOf returns a Units value for a plain decimals count.
func UnitsOf(decimals int32) Units {
	return Units{name: strconv.Itoa(int(decimals)), decimals: decimals}
}

// Decimals returns the number of fractional digits.
func (u Units) Decimals() int32 { return u.decimals }

func (u Units) String() string { return u.name }

// Format converts a base unit amount to its human readable decimal.
func (u Units) Format(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -u.decimals)
}

// Parse converts a human readable amount ("30000", "1.5") to base units.
// Digits beyond the unit precision are rejected rather than rounded.
func (u Units) Parse(value string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidAmount, err, "amount is not a decimal")
	}
	if d.IsNegative() {
		return nil, xerrors.Newf(xerrors.CodeInvalidAmount, "amount %s is negative", value)
	}
	scaled := d.Shift(u.decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, xerrors.Newf(xerrors.CodeInvalidAmount, "amount %s has more than %d decimals", value, u.decimals)
	}
	return scaled.BigInt(), nil
}
