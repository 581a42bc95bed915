package config

import (
	_ "embed"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	chainsel "github.com/smartcontractkit/chain-selectors"
	"gopkg.in/yaml.v3"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/treasury"
	"Treasury-Rebalancer/internal/validate"
	"Treasury-Rebalancer/pkg/logger"
)

//go:embed networks.yaml
var defaultNetworks []byte

// networkFile 对应 networks.yaml 的结构。
type networkFile struct {
	Networks map[string]*Network `yaml:"networks"`
}

// Network 描述单个网络上参与再平衡的合约地址与目标余额。
type Network struct {
	Name          string `yaml:"-"`
	ChainID       uint64 `yaml:"chain_id"`
	ChainSelector uint64 `yaml:"-"`
	ChainName     string `yaml:"-"`

	CowAPI string `yaml:"cow_api"`
	// Settlement 是提供 approveOrder 的订单批准合约，只在需要兑换时使用。
	Settlement     string `yaml:"gpv2_settlement"`
	VaultRelayer   string `yaml:"gpv2_vault_relayer"`
	Safe           string `yaml:"safe"`
	RolesModifier  string `yaml:"roles_modifier"`
	RolesMultiSend string `yaml:"roles_multisend"`
	Role           uint16 `yaml:"role"`
	ENSWallet      string `yaml:"ens_wallet"`
	Controller     string `yaml:"controller"`
	WETH           string `yaml:"weth"`
	PriceFeed      string `yaml:"chainlink_eth_usd"`
	// MaxSpend 以 ETH 为单位，0 表示不设上限。
	MaxSpend string `yaml:"max_spend"`
	// SkipMultisigForward 关闭把多签钱包中的稳定币转回资金来源钱包的步骤。
	SkipMultisigForward bool         `yaml:"skip_multisig_forward"`
	Stablecoins         []Stablecoin `yaml:"stablecoins"`
	Recipients          []Recipient  `yaml:"remainder_recipients"`
}

// Stablecoin 是需要维持目标余额的稳定币。
type Stablecoin struct {
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
	Units   string `yaml:"units"`
	Desired string `yaml:"desired"`
}

// Recipient 接收剩余 WETH 的 Pct 百分比。
type Recipient struct {
	Address string `yaml:"address"`
	Pct     uint64 `yaml:"pct"`
}

// Networks 保存所有已加载的网络，按名称查找。
type Networks struct {
	byName    map[string]*Network
	supported mapset.Set[string]
}

// LoadNetworks 解析网络表。path 为空时使用内置的 mainnet 与 goerli 配置。
func LoadNetworks(path string) (*Networks, error) {
	data := defaultNetworks
	if path = strings.TrimSpace(path); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取网络配置失败")
		}
		data = content
	}
	return ParseNetworks(data)
}

// ParseNetworks 解析 YAML 格式的网络表并逐项校验。
func ParseNetworks(data []byte) (*Networks, error) {
	var file networkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析网络配置失败")
	}
	if len(file.Networks) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "网络配置为空")
	}

	out := &Networks{
		byName:    make(map[string]*Network, len(file.Networks)),
		supported: mapset.NewSet[string](),
	}
	for name, n := range file.Networks {
		if n == nil {
			return nil, xerrors.Newf(xerrors.CodeInitializationFailure, "网络 %s 缺少配置", name)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		n.Name = name
		if n.Role == 0 {
			n.Role = 1
		}
		if err := n.check(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, "网络 "+name)
		}
		n.resolveChain()
		out.byName[name] = n
		out.supported.Add(name)
	}
	return out, nil
}

// resolveChain 从 chain-selectors 查找链选择器。查不到的链只记录警告，
// ChainSelector 保持为 0。
func (n *Network) resolveChain() {
	chainID := strconv.FormatUint(n.ChainID, 10)
	details, err := chainsel.GetChainDetailsByChainIDAndFamily(chainID, chainsel.FamilyEVM)
	if err != nil {
		logger.L().Warn("chain-selectors 中没有该链，跳过链选择器", "network", n.Name, "chain_id", chainID, "error", err)
		n.ChainSelector = 0
		n.ChainName = ""
		return
	}
	n.ChainSelector = details.ChainSelector
	n.ChainName = details.ChainName
}

// check 校验格式：链 ID 不能为 0，已填写的地址必须合法。
// 地址是否齐全留给 Validate 在运行前检查。
func (n *Network) check() error {
	if n.ChainID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "chain_id 不能为 0")
	}

	hexOnly := map[string]string{
		"gpv2_settlement":    n.Settlement,
		"gpv2_vault_relayer": n.VaultRelayer,
		"safe":               n.Safe,
		"roles_modifier":     n.RolesModifier,
		"roles_multisend":    n.RolesMultiSend,
		"controller":         n.Controller,
		"weth":               n.WETH,
		"chainlink_eth_usd":  n.PriceFeed,
	}
	for field, value := range hexOnly {
		if value != "" && !validate.IsHexAddress(value) {
			return xerrors.Newf(xerrors.CodeInvalidAddress, "%s 不是合法地址: %q", field, value)
		}
	}
	if n.ENSWallet != "" {
		if _, err := validate.ParseAccount(n.ENSWallet); err != nil {
			return err
		}
	}
	if _, err := n.MaxSpendWei(); err != nil {
		return err
	}
	if _, err := n.Targets(); err != nil {
		return err
	}

	var total uint64
	for _, r := range n.Recipients {
		if _, err := validate.ParseAccount(r.Address); err != nil {
			return err
		}
		total += r.Pct
	}
	if total > 100 {
		return xerrors.Newf(xerrors.CodeInvariantViolation, "剩余分配比例合计 %d%% 超过 100%%", total)
	}
	return nil
}

// Validate 确认一次运行所需的地址全部已配置。
func (n *Network) Validate() error {
	required := []struct {
		field, value string
	}{
		{"gpv2_vault_relayer", n.VaultRelayer},
		{"safe", n.Safe},
		{"roles_modifier", n.RolesModifier},
		{"roles_multisend", n.RolesMultiSend},
		{"ens_wallet", n.ENSWallet},
		{"controller", n.Controller},
		{"weth", n.WETH},
		{"cow_api", n.CowAPI},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return xerrors.Newf(xerrors.CodeInvariantViolation, "网络 %s 缺少配置: %s", n.Name, strings.Join(missing, ", "))
	}
	if len(n.Stablecoins) == 0 {
		return xerrors.Newf(xerrors.CodeInvariantViolation, "网络 %s 未配置稳定币", n.Name)
	}
	return n.check()
}

// ValidateSwap 确认下单所需的订单批准合约已配置。
func (n *Network) ValidateSwap() error {
	if strings.TrimSpace(n.Settlement) == "" {
		return xerrors.Newf(xerrors.CodeInvariantViolation, "网络 %s 未配置 gpv2_settlement，无法兑换", n.Name)
	}
	return nil
}

// Targets 把配置的稳定币转换为余额目标，顺序与配置一致。
func (n *Network) Targets() ([]treasury.Target, error) {
	targets := make([]treasury.Target, 0, len(n.Stablecoins))
	seen := mapset.NewSet[string]()
	for _, s := range n.Stablecoins {
		symbol := strings.TrimSpace(s.Symbol)
		if symbol == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "稳定币缺少 symbol")
		}
		if !seen.Add(symbol) {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "稳定币 %s 重复配置", symbol)
		}
		if !validate.IsHexAddress(s.Address) {
			return nil, xerrors.Newf(xerrors.CodeInvalidAddress, "稳定币 %s 地址不合法: %q", symbol, s.Address)
		}
		if _, err := treasury.ParseUnits(s.Units); err != nil {
			return nil, err
		}
		targets = append(targets, treasury.Target{
			Symbol:  symbol,
			Token:   common.HexToAddress(s.Address),
			Units:   s.Units,
			Desired: s.Desired,
		})
	}
	return targets, nil
}

// MaxSpendWei 返回单次运行可花费的 ETH 上限（wei），0 表示不设上限。
func (n *Network) MaxSpendWei() (*big.Int, error) {
	if strings.TrimSpace(n.MaxSpend) == "" {
		return new(big.Int), nil
	}
	return treasury.Ether.Parse(n.MaxSpend)
}

// Address 把十六进制地址字段转换为 common.Address，调用前应先通过 Validate。
func Address(s string) common.Address {
	return common.HexToAddress(s)
}

// Get 返回指定名称的网络；不在支持列表中的网络返回 UNSUPPORTED_NETWORK。
func (ns *Networks) Get(name string) (*Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if ns == nil || !ns.supported.Contains(name) {
		return nil, xerrors.Newf(xerrors.CodeUnsupportedNetwork, "不支持的网络: %q", name)
	}
	return ns.byName[name], nil
}

// IsSupported 报告网络是否已配置。
func (ns *Networks) IsSupported(name string) bool {
	return ns != nil && ns.supported.Contains(strings.ToLower(strings.TrimSpace(name)))
}

// Names 按字母顺序返回所有网络名称。
func (ns *Networks) Names() []string {
	if ns == nil {
		return nil
	}
	names := ns.supported.ToSlice()
	sort.Strings(names)
	return names
}
