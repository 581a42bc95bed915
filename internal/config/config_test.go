package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	chainsel "github.com/smartcontractkit/chain-selectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Treasury-Rebalancer/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "goerli", cfg.Network)
	assert.Equal(t, uint64(2_000_000), cfg.Relayer.GasLimit)
	assert.Equal(t, 30*time.Second, cfg.Tenderly.Delay)
	assert.Equal(t, "https://api.tenderly.co", cfg.Tenderly.APIBase)
	assert.Equal(t, time.Hour, cfg.CowSwap.OrderValidity)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "treasury.yaml", `
network: Mainnet
relayer:
  gas_limit: 1500000
task_queue:
  driver: redis
  workers: 0
rpc:
  endpoints:
    Mainnet: " https://rpc.example "
`)
	t.Setenv("TENDERLY_USER", "ops")
	t.Setenv("TREASURY_TENDERLY_PROJECT", "treasury")
	t.Setenv("TREASURY_SERVER_ADDRESS", ":9090")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, uint64(1_500_000), cfg.Relayer.GasLimit)
	assert.Equal(t, "redis", cfg.TaskQueue.Driver)
	assert.Equal(t, 1, cfg.TaskQueue.Workers)
	assert.Equal(t, "https://rpc.example", cfg.RPC.Endpoint("MAINNET"))
	assert.Equal(t, "ops", cfg.Tenderly.User)
	assert.Equal(t, "treasury", cfg.Tenderly.Project)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", "task_queue:\n  driver: kafka\n")
	_, err := load(path)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	path = writeFile(t, "bad-mode.yaml", "schedule:\n  mode: dryrun\n")
	_, err = load(path)
	require.Error(t, err)

	path = writeFile(t, "gas.yaml", "relayer:\n  gas_limit: 0\n")
	_, err = load(path)
	require.Error(t, err)
}

func TestRequireCredentials(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	err := cfg.RequireCredentials(ModeSimulate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TENDERLY_ACCESS_KEY")

	cfg.Tenderly = TenderlyConfig{User: "u", Project: "p", AccessKey: "k"}
	err = cfg.RequireCredentials(ModeSimulate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAYER_ADDRESS")

	cfg.Relayer.Address = "0x1111111111111111111111111111111111111111"
	require.NoError(t, cfg.RequireCredentials(ModeSimulate))

	err = cfg.RequireCredentials(ModeRelay)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvariantViolation, xerrors.CodeOf(err))

	cfg.Relayer.PrivateKey = "0x01"
	require.NoError(t, cfg.RequireCredentials(ModeRelay))
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode(" Relay ")
	require.NoError(t, err)
	assert.Equal(t, ModeRelay, m)

	_, err = ParseMode("build")
	require.Error(t, err)
}

func TestDefaultNetworks(t *testing.T) {
	t.Parallel()

	nets, err := LoadNetworks("")
	require.NoError(t, err)
	assert.Equal(t, []string{"goerli", "mainnet"}, nets.Names())

	goerli, err := nets.Get("Goerli")
	require.NoError(t, err)
	require.NoError(t, goerli.Validate())
	assert.Equal(t, uint16(1), goerli.Role)

	targets, err := goerli.Targets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "USDC", targets[0].Symbol)
	assert.Equal(t, "mwei", targets[0].Units)
	assert.Equal(t, "30000", targets[0].Desired)

	maxSpend, err := goerli.MaxSpendWei()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", maxSpend.String())

	assert.Equal(t, uint64(5), goerli.ChainID)
	assert.False(t, goerli.SkipMultisigForward)
	require.NoError(t, goerli.ValidateSwap())

	mainnet, err := nets.Get("mainnet")
	require.NoError(t, err)
	assert.Equal(t, chainsel.ETHEREUM_MAINNET.Selector, mainnet.ChainSelector)
	assert.Equal(t, uint64(1), mainnet.ChainID)

	err = mainnet.Validate()
	require.Error(t, err, "mainnet ships without a Safe")
	assert.Equal(t, xerrors.CodeInvariantViolation, xerrors.CodeOf(err))
	assert.NotContains(t, err.Error(), "gpv2_settlement")

	err = mainnet.ValidateSwap()
	require.Error(t, err, "mainnet ships without an order approver")
	assert.Equal(t, xerrors.CodeInvariantViolation, xerrors.CodeOf(err))

	_, err = nets.Get("ropsten")
	assert.Equal(t, xerrors.CodeUnsupportedNetwork, xerrors.CodeOf(err))
	assert.False(t, nets.IsSupported("ropsten"))
}

func TestParseNetworksRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing chain id": `
networks:
  nowhere:
    cow_api: https://api.cow.fi/nowhere
`,
		"bad address": `
networks:
  mainnet:
    chain_id: 1
    weth: "0x1234"
`,
		"percent over 100": `
networks:
  mainnet:
    chain_id: 1
    remainder_recipients:
      - address: "0x0904dac3347ea47d208f3fd67402d039a3b99859"
        pct: 60
      - address: "0xFe89cc7aBB2C4183683ab71653C4cdc9B02D44b7"
        pct: 41
`,
		"duplicate stablecoin": `
networks:
  mainnet:
    chain_id: 1
    stablecoins:
      - {symbol: USDC, address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", units: mwei, desired: "1"}
      - {symbol: USDC, address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", units: mwei, desired: "2"}
`,
		"empty": `networks: {}`,
	}
	for name, doc := range cases {
		_, err := ParseNetworks([]byte(doc))
		assert.Error(t, err, name)
	}

	_, err := ParseNetworks([]byte(cases["missing chain id"]))
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestParseNetworksUnregisteredChain(t *testing.T) {
	t.Parallel()

	nets, err := ParseNetworks([]byte(`
networks:
  devnet:
    chain_id: 987654321987
    skip_multisig_forward: true
`))
	require.NoError(t, err)
	n, err := nets.Get("devnet")
	require.NoError(t, err)
	assert.Equal(t, uint64(987654321987), n.ChainID)
	assert.Zero(t, n.ChainSelector)
	assert.Empty(t, n.ChainName)
	assert.True(t, n.SkipMultisigForward)
}

func TestLoadNetworksFromFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "networks.yaml", `
networks:
  mainnet:
    chain_id: 1
    cow_api: https://api.cow.fi/mainnet
    max_spend: "0"
    stablecoins:
      - {symbol: DAI, address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", units: ether, desired: "2.5"}
`)
	nets, err := LoadNetworks(path)
	require.NoError(t, err)
	n, err := nets.Get("mainnet")
	require.NoError(t, err)

	spend, err := n.MaxSpendWei()
	require.NoError(t, err)
	assert.Zero(t, spend.Sign())
	assert.Equal(t, uint16(1), n.Role)

	_, err = LoadNetworks(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
