package validate

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Treasury-Rebalancer/internal/errors"
)

func TestIsHexAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "checksummed", input: "0x3c8499F3ef1e6A9f8cd9Dc5731B3Be74B3321288", want: true},
		{name: "lower case", input: "0x0904dac3347ea47d208f3fd67402d039a3b99859", want: true},
		{name: "upper case body", input: "0xC92E8BDF79F0507F65A392B0AB4667716BFE0110", want: true},
		{name: "missing prefix and too short", input: "ef1e6A9f8cd9Dc5731B3Be74B3321288", want: false},
		{name: "non hex", input: "0xZZ8499F3ef1e6A9f8cd9Dc5731B3Be74B3321288", want: false},
		{name: "too long", input: "0x3c8499F3ef1e6A9f8cd9Dc5731B3Be74B332128800", want: false},
		{name: "empty", input: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsHexAddress(tt.input))
		})
	}
}

func TestIsENSName(t *testing.T) {
	t.Parallel()

	assert.True(t, IsENSName("ens.eth"))
	assert.True(t, IsENSName("wallet.ens.eth"))
	assert.False(t, IsENSName("ens eth"))
	assert.False(t, IsENSName("ens-/.wallet.eth"))
	assert.False(t, IsENSName("wallet..eth"))
	assert.False(t, IsENSName("0x0904dac3347ea47d208f3fd67402d039a3b99859"))
}

func TestParseAccount(t *testing.T) {
	t.Parallel()

	acct, err := ParseAccount("0x0904Dac3347eA47d208F3Fd67402D039a3b99859")
	require.NoError(t, err)
	assert.Equal(t, KindAddress, acct.Kind)
	assert.Equal(t, common.HexToAddress("0x0904Dac3347eA47d208F3Fd67402D039a3b99859"), acct.Address)

	acct, err = ParseAccount("Wallet.ENS.eth")
	require.NoError(t, err)
	assert.Equal(t, KindName, acct.Kind)
	assert.Equal(t, "wallet.ens.eth", acct.Name)

	_, err = ParseAccount("ens eth")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidAddress, xerrors.CodeOf(err))

	// a name-shaped input is never re-checked as an address
	_, err = ParseAccount("ens-/.wallet.eth")
	assert.Equal(t, xerrors.CodeInvalidAddress, xerrors.CodeOf(err))
}

func TestParseUint256(t *testing.T) {
	t.Parallel()

	v, err := ParseUint256("1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())

	v, err = ParseUint256("0x3e8")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())

	for _, bad := range []string{"", "-1", "12.5", "abc", "0x1" + strings.Repeat("0", 64)} {
		_, err := ParseUint256(bad)
		assert.Error(t, err, bad)
		assert.False(t, IsNumeric(bad), bad)
	}
}

func TestCheckAmount(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckAmount(big.NewInt(0)))
	require.Error(t, CheckPositive(big.NewInt(0)))
	require.NoError(t, CheckPositive(big.NewInt(1)))
	require.Error(t, CheckAmount(nil))
	require.Error(t, CheckAmount(big.NewInt(-5)))

	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	err := CheckAmount(overflow)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidAmount, xerrors.CodeOf(err))
}

func TestIsValidTimestamp(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidTimestamp(1_700_000_000))
	assert.True(t, IsValidTimestamp(math.MaxUint32))
	assert.False(t, IsValidTimestamp(0))
	assert.False(t, IsValidTimestamp(-1))
	assert.False(t, IsValidTimestamp(math.MaxUint32+1))
}
