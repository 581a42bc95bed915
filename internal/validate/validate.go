// Package validate holds the pure predicates used before anything is encoded:
// account identifiers (ENS names or raw hex addresses), unsigned integer
// amounts and order timestamps.
package validate

import (
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/net/idna"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// ENSSuffix marks an input as a human readable name rather than a raw address.
const ENSSuffix = ".eth"

var hexAddressPattern = regexp.MustCompile(`(?i)^(0x)?[0-9a-f]{40}$`)

var ensProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
	idna.VerifyDNSLength(false),
)

// IsHexAddress reports whether s is a 20 byte hex account identifier. Mixed
// case is accepted without checksum verification.
func IsHexAddress(s string) bool {
	if len(s) < 42 {
		return false
	}
	return hexAddressPattern.MatchString(s)
}

// IsENSName reports whether s is an ENS name that survives normalisation.
func IsENSName(s string) bool {
	_, err := NormalizeENS(s)
	return err == nil
}

// NormalizeENS returns the UTS-46 normalised form of an ENS name.
func NormalizeENS(name string) (string, error) {
	if !strings.Contains(name, ENSSuffix) {
		return "", xerrors.New(xerrors.CodeInvalidAddress, "name has no .eth suffix")
	}
	normalized, err := ensProfile.ToUnicode(name)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidAddress, err, "name does not normalise")
	}
	for _, label := range strings.Split(normalized, ".") {
		if label == "" {
			return "", xerrors.Newf(xerrors.CodeInvalidAddress, "empty label in %q", name)
		}
		for _, r := range label {
			if r == ' ' || r == '/' || r == '\\' || r < 0x20 {
				return "", xerrors.Newf(xerrors.CodeInvalidAddress, "disallowed character %q in %q", r, name)
			}
		}
	}
	return normalized, nil
}

// AccountKind tells which form an account identifier was written in.
type AccountKind int

const (
	KindAddress AccountKind = iota
	KindName
)

// Account is a validated account identifier. Address is set for KindAddress,
// Name for KindName.
type Account struct {
	Kind    AccountKind
	Address common.Address
	Name    string
}

func (a Account) String() string {
	if a.Kind == KindName {
		return a.Name
	}
	return a.Address.Hex()
}

// ParseAccount classifies s as a name (it contains ".eth") or a raw address
// and validates it in that form only.
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ENSSuffix) {
		name, err := NormalizeENS(s)
		if err != nil {
			return Account{}, err
		}
		return Account{Kind: KindName, Name: name}, nil
	}
	if !IsHexAddress(s) {
		return Account{}, xerrors.Newf(xerrors.CodeInvalidAddress, "%q is neither an ENS name nor a hex address", s)
	}
	return Account{Kind: KindAddress, Address: common.HexToAddress(s)}, nil
}

// IsNumeric reports whether s parses as an unsigned 256-bit integer in
// decimal or 0x-prefixed hex.
func IsNumeric(s string) bool {
	_, err := ParseUint256(s)
	return err == nil
}

// ParseUint256 parses s as an unsigned 256-bit integer.
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "empty amount")
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidAmount, err, "amount is not an unsigned 256-bit integer")
	}
	return v.ToBig(), nil
}

// CheckAmount verifies that amount can be ABI encoded as uint256.
func CheckAmount(amount *big.Int) error {
	if amount == nil {
		return xerrors.New(xerrors.CodeInvalidAmount, "amount is nil")
	}
	if amount.Sign() < 0 {
		return xerrors.Newf(xerrors.CodeInvalidAmount, "amount %s is negative", amount)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return xerrors.Newf(xerrors.CodeInvalidAmount, "amount %s overflows uint256", amount)
	}
	return nil
}

// CheckPositive is CheckAmount plus a non-zero requirement.
func CheckPositive(amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return xerrors.New(xerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	return nil
}

// IsValidTimestamp reports whether ts (unix seconds) is usable as an order
// validTo, which the settlement contract stores as uint32.
func IsValidTimestamp(ts int64) bool {
	return ts > 0 && ts <= math.MaxUint32
}
