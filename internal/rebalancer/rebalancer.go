package rebalancer

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"Treasury-Rebalancer/internal/batch"
	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/observability/metrics"
	"Treasury-Rebalancer/internal/strategy"
	"Treasury-Rebalancer/internal/tenderly"
	"Treasury-Rebalancer/internal/treasury"
	"Treasury-Rebalancer/internal/web3"
	"Treasury-Rebalancer/pkg/logger"
)

// Chain 是一次运行需要的链上读取能力。
type Chain interface {
	web3.Resolver
	web3.BalanceOracle
	web3.PriceFeed
	web3.GasEstimator
	ChainID(ctx context.Context) (*big.Int, error)
}

// State 是编排器的运行阶段。
type State string

// 运行阶段只会前进；任何错误都会直接进入 aborted。
const (
	StateInit                State = "init"
	StateValidateCredentials State = "validate_credentials"
	StateFetchBalances       State = "fetch_balances"
	StateComputeShortfalls   State = "compute_shortfalls"
	StateBuildOperations     State = "build_operations"
	StateAssembleBatch       State = "assemble_batch"
	StateDispatch            State = "dispatch"
	StateDone                State = "done"
	StateAborted             State = "aborted"
)

// ModeBuild 只构建批量交易而不分发，对应库调用方式。
const ModeBuild config.Mode = "build"

// RunContext 是一次运行期间只读的上下文。
type RunContext struct {
	ID           string
	Network      *config.Network
	ChainID      *big.Int
	SourceWallet common.Address
	Multisig     common.Address
	Controller   common.Address
	Relayer      common.Address
	EthUSD       decimal.Decimal
}

// Shortfall 记录单个稳定币的缺口，用于结果展示。
type Shortfall struct {
	Symbol  string `json:"symbol"`
	Deficit string `json:"deficit"`
	// EstimatedETH 按 Chainlink 汇率估算，仅供参考。
	EstimatedETH string `json:"estimated_eth,omitempty"`
}

// Result 汇总一次运行的产出。
type Result struct {
	RunID      string                     `json:"run_id"`
	Network    string                     `json:"network"`
	Mode       config.Mode                `json:"mode"`
	State      State                      `json:"state"`
	Trace      []State                    `json:"trace"`
	Error      string                     `json:"error,omitempty"`
	Shortfalls []Shortfall                `json:"shortfalls,omitempty"`
	SwapMode   strategy.Mode              `json:"swap_mode,omitempty"`
	Deposit    string                     `json:"deposit_wei,omitempty"`
	Spend      string                     `json:"spend_wei,omitempty"`
	Remainder  string                     `json:"remainder_wei,omitempty"`
	OrderUIDs  []string                   `json:"order_uids,omitempty"`
	Operations int                        `json:"operations"`
	Batch      *batch.Batch               `json:"-"`
	Simulation *tenderly.SimulationResult `json:"simulation,omitempty"`
	GasUsed    uint64                     `json:"gas_estimate,omitempty"`
	TxHash     string                     `json:"tx_hash,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

func (r *Result) enter(st State, log *slog.Logger) {
	r.State = st
	r.Trace = append(r.Trace, st)
	log.Info("运行阶段", "state", string(st))
}

// Rebalancer 协调余额查询、缺口计算、下单、批量组装与分发。
type Rebalancer struct {
	network   *config.Network
	chain     Chain
	venue     strategy.Venue
	simulator tenderly.Simulator
	relayer   web3.Relayer
	caller    common.Address
	gasLimit  uint64
	maxSpend  *big.Int

	encoder   *batch.Encoder
	builder   *builder
	assembler *batch.Assembler

	logger *slog.Logger
	audit  *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option 定义可选的 Rebalancer 配置。
type Option func(*Rebalancer)

// WithSimulator 配置 simulate 模式使用的模拟器，通常是 tenderly.Scheduler。
func WithSimulator(sim tenderly.Simulator) Option {
	return func(r *Rebalancer) {
		r.simulator = sim
	}
}

// WithRelayer 配置 relay 模式使用的中继账户。
func WithRelayer(relayer web3.Relayer) Option {
	return func(r *Rebalancer) {
		r.relayer = relayer
	}
}

// WithCaller 设置未配置中继账户时模拟调用使用的 from 地址。
func WithCaller(addr common.Address) Option {
	return func(r *Rebalancer) {
		r.caller = addr
	}
}

// WithGasLimit 设置 relay 模式的固定 gas 上限。
func WithGasLimit(limit uint64) Option {
	return func(r *Rebalancer) {
		if limit > 0 {
			r.gasLimit = limit
		}
	}
}

// WithLogger 设置运行日志。
func WithLogger(l *slog.Logger) Option {
	return func(r *Rebalancer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditLogger 设置记录分发结果的审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(r *Rebalancer) {
		if l != nil {
			r.audit = l
		}
	}
}

// WithClock 替换时间来源，同时用于报价过期检查。
func WithClock(now func() time.Time) Option {
	return func(r *Rebalancer) {
		if now != nil {
			r.now = now
		}
	}
}

// DefaultGasLimit 是 relay 模式默认的固定 gas 上限。
const DefaultGasLimit uint64 = 2_000_000

// New 创建一个 Rebalancer。network 必须包含一次运行所需的全部地址。
func New(network *config.Network, chain Chain, venue strategy.Venue, opts ...Option) (*Rebalancer, error) {
	if network == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置网络")
	}
	if chain == nil || venue == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端或交易场所")
	}
	if err := network.Validate(); err != nil {
		return nil, err
	}
	maxSpend, err := network.MaxSpendWei()
	if err != nil {
		return nil, err
	}

	rb := &Rebalancer{
		network:  network,
		chain:    chain,
		venue:    venue,
		gasLimit: DefaultGasLimit,
		maxSpend: maxSpend,
		logger:   logger.Named("rebalancer"),
		audit:    logger.Audit(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rb)
		}
	}

	rb.encoder = batch.NewEncoder(chain)
	selector := strategy.NewSelector(venue, rb.encoder, network.Settlement,
		strategy.WithLogger(rb.logger.With("component", "strategy")),
		strategy.WithClock(rb.now),
	)
	rb.builder = newBuilder(network, rb.encoder, selector, rb.logger)
	rb.assembler, err = batch.NewAssembler(
		config.Address(network.RolesMultiSend),
		config.Address(network.RolesModifier),
		network.Role,
	)
	if err != nil {
		return nil, err
	}
	return rb, nil
}

// Network 返回运行所在的网络。
func (rb *Rebalancer) Network() *config.Network {
	return rb.network
}

// CreateDepositAndSwap 生成 WETH 存入、兑换与剩余分配的操作序列。
func (rb *Rebalancer) CreateDepositAndSwap(ctx context.Context, in DepositAndSwapInput) (*DepositAndSwap, error) {
	return rb.builder.CreateDepositAndSwap(ctx, in)
}

// BuildBatch 执行到 assemble_batch 为止，不做任何分发。
func (rb *Rebalancer) BuildBatch(ctx context.Context) (*Result, error) {
	return rb.execute(ctx, ModeBuild)
}

// Run 执行完整流程并按 mode 模拟或中继批量交易。
// 失败时同时返回 aborted 状态的结果与错误，结果中不会包含部分批量。
func (rb *Rebalancer) Run(ctx context.Context, mode config.Mode) (*Result, error) {
	if mode != config.ModeSimulate && mode != config.ModeRelay {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的运行模式: %q", mode)
	}
	return rb.execute(ctx, mode)
}

type balances struct {
	wallet   treasury.Holdings
	multisig treasury.Holdings
	native   *big.Int
}

func (rb *Rebalancer) execute(ctx context.Context, mode config.Mode) (res *Result, err error) {
	res = &Result{
		RunID:     rb.newID(),
		Network:   rb.network.Name,
		Mode:      mode,
		StartedAt: rb.now(),
	}
	log := rb.logger.With("run_id", res.RunID, "network", rb.network.Name, "mode", string(mode))
	defer func() {
		res.FinishedAt = rb.now()
		if err != nil {
			res.Batch = nil
			res.Error = err.Error()
			res.enter(StateAborted, log)
			log.Error("运行中止", "trace", res.Trace, "error", err)
		}
		metrics.ObserveRun(rb.network.Name, string(mode), string(res.State), res.FinishedAt.Sub(res.StartedAt))
	}()

	res.enter(StateInit, log)

	res.enter(StateValidateCredentials, log)
	rc, err := rb.validateCredentials(ctx, mode)
	if err != nil {
		return res, err
	}
	rc.ID = res.RunID

	res.enter(StateFetchBalances, log)
	bal, err := rb.fetchBalances(ctx, &rc)
	if err != nil {
		return res, err
	}

	res.enter(StateComputeShortfalls, log)
	shortfalls, err := rb.computeShortfalls(rc, bal, log)
	if err != nil {
		return res, err
	}
	for _, a := range shortfalls.All() {
		s := Shortfall{Symbol: a.Symbol, Deficit: a.DeficitDecimal.String()}
		if rc.EthUSD.Sign() > 0 {
			s.EstimatedETH = treasury.EstimateNative(a.DeficitDecimal, rc.EthUSD).String()
		}
		res.Shortfalls = append(res.Shortfalls, s)
	}

	res.enter(StateBuildOperations, log)
	ops, swap, err := rb.buildOperations(ctx, rc, bal, shortfalls)
	if err != nil {
		return res, err
	}
	res.Deposit = swap.Deposit.String()
	res.Spend = swap.Spend.String()
	res.Remainder = swap.Remainder.String()
	if swap.Plan != nil {
		res.SwapMode = swap.Plan.Mode
		for _, o := range swap.Plan.Orders {
			res.OrderUIDs = append(res.OrderUIDs, o.UID)
		}
	}

	res.enter(StateAssembleBatch, log)
	ptrs := make([]*batch.Operation, len(ops))
	for i := range ops {
		ptrs[i] = &ops[i]
	}
	assembled, err := rb.assembler.Assemble(ptrs)
	if err != nil {
		return res, err
	}
	res.Batch = assembled
	res.Operations = len(assembled.Operations)
	metrics.ObserveBatch(rb.network.Name, len(assembled.Operations))
	for i, op := range assembled.Operations {
		log.Debug("批量操作", "index", i, "label", op.Label, "kind", op.Kind.String(), "to", op.To.Hex())
	}

	if mode == ModeBuild {
		res.enter(StateDone, log)
		return res, nil
	}

	res.enter(StateDispatch, log)
	if err := rb.dispatch(ctx, mode, rc, assembled, res, log); err != nil {
		return res, err
	}
	res.enter(StateDone, log)
	return res, nil
}

func (rb *Rebalancer) validateCredentials(ctx context.Context, mode config.Mode) (RunContext, error) {
	rc := RunContext{Network: rb.network}
	switch {
	case rb.relayer != nil:
		rc.Relayer = rb.relayer.Address()
	default:
		rc.Relayer = rb.caller
	}
	switch mode {
	case config.ModeSimulate:
		if rb.simulator == nil {
			return rc, xerrors.New(xerrors.CodeInvariantViolation, "simulate 模式未配置模拟器")
		}
		if rc.Relayer == (common.Address{}) {
			return rc, xerrors.New(xerrors.CodeInvariantViolation, "simulate 模式缺少中继账户地址")
		}
	case config.ModeRelay:
		if rb.relayer == nil {
			return rc, xerrors.New(xerrors.CodeInvariantViolation, "relay 模式未配置中继账户")
		}
	}

	chainID, err := rb.chain.ChainID(ctx)
	if err != nil {
		return rc, collaborator(err, "查询链 ID 失败")
	}
	if chainID.Cmp(new(big.Int).SetUint64(rb.network.ChainID)) != 0 {
		return rc, xerrors.Newf(xerrors.CodeUnsupportedNetwork, "RPC 链 ID %s 与网络 %s (%d) 不一致", chainID, rb.network.Name, rb.network.ChainID)
	}
	rc.ChainID = chainID

	rc.SourceWallet, err = rb.encoder.Resolve(ctx, rb.network.ENSWallet)
	if err != nil {
		return rc, err
	}
	rc.Multisig = config.Address(rb.network.Safe)
	rc.Controller = config.Address(rb.network.Controller)
	return rc, nil
}

func (rb *Rebalancer) fetchBalances(ctx context.Context, rc *RunContext) (*balances, error) {
	if rb.network.PriceFeed != "" {
		rate, err := rb.chain.LatestRate(ctx, config.Address(rb.network.PriceFeed))
		if err != nil {
			return nil, collaborator(err, "查询 ETH/USD 汇率失败")
		}
		rc.EthUSD = rate
		rb.logger.Info("ETH/USD 汇率", "run_id", rc.ID, "rate", rate.String())
	}

	targets, err := rb.network.Targets()
	if err != nil {
		return nil, err
	}
	assets, err := treasury.AssetsFromTargets(targets)
	if err != nil {
		return nil, err
	}
	wallet, err := rb.tokenBalances(ctx, assets, rc.SourceWallet)
	if err != nil {
		return nil, err
	}
	multisig, err := rb.tokenBalances(ctx, assets, rc.Multisig)
	if err != nil {
		return nil, err
	}
	native, err := rb.chain.NativeBalance(ctx, rc.Multisig)
	if err != nil {
		return nil, collaborator(err, "查询多签钱包 ETH 余额失败")
	}
	rb.logger.Info("多签钱包 ETH 余额", "run_id", rc.ID, "eth", treasury.Ether.Format(native).String())
	return &balances{wallet: wallet, multisig: multisig, native: native}, nil
}

func (rb *Rebalancer) tokenBalances(ctx context.Context, assets treasury.Holdings, owner common.Address) (treasury.Holdings, error) {
	found := make(map[string]*big.Int, assets.Len())
	for _, a := range assets.All() {
		bal, err := rb.chain.TokenBalance(ctx, owner, a.Token)
		if err != nil {
			return treasury.Holdings{}, collaborator(err, "查询 "+a.Symbol+" 余额失败")
		}
		found[a.Symbol] = bal
	}
	return treasury.WithBalances(assets, found)
}

func (rb *Rebalancer) computeShortfalls(rc RunContext, bal *balances, log *slog.Logger) (treasury.Holdings, error) {
	total, err := treasury.Merge(bal.wallet, bal.multisig)
	if err != nil {
		return treasury.Holdings{}, err
	}
	shortfalls, err := treasury.FilterBelowThreshold(total)
	if err != nil {
		return treasury.Holdings{}, err
	}
	for _, a := range shortfalls.All() {
		attrs := []any{"symbol", a.Symbol, "deficit", a.DeficitDecimal.String()}
		if rc.EthUSD.Sign() > 0 {
			attrs = append(attrs, "estimated_eth", treasury.EstimateNative(a.DeficitDecimal, rc.EthUSD).String())
		}
		log.Info("资金来源钱包存在缺口", attrs...)
	}
	if shortfalls.Len() == 0 {
		log.Info("所有稳定币均已达到目标余额")
	}
	return shortfalls, nil
}

func (rb *Rebalancer) buildOperations(ctx context.Context, rc RunContext, bal *balances, shortfalls treasury.Holdings) ([]batch.Operation, *DepositAndSwap, error) {
	var ops []batch.Operation
	destination := rc.SourceWallet.Hex()
	if !rb.network.SkipMultisigForward {
		forward, err := rb.builder.forwardStablecoins(ctx, bal.multisig, destination)
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, forward...)
	}

	withdraw, err := rb.builder.controllerWithdraw(ctx)
	if err != nil {
		return nil, nil, err
	}
	ops = append(ops, withdraw)

	available := new(big.Int).Set(bal.native)
	if rb.maxSpend.Sign() > 0 && available.Cmp(rb.maxSpend) > 0 {
		available.Set(rb.maxSpend)
	}
	swap, err := rb.builder.CreateDepositAndSwap(ctx, DepositAndSwapInput{
		Balance:     bal.native,
		Available:   available,
		Destination: destination,
		Multisig:    rc.Multisig,
		Shortfalls:  shortfalls,
	})
	if err != nil {
		return nil, nil, err
	}
	ops = append(ops, swap.Operations...)
	return ops, swap, nil
}

func (rb *Rebalancer) dispatch(ctx context.Context, mode config.Mode, rc RunContext, b *batch.Batch, res *Result, log *slog.Logger) error {
	switch mode {
	case config.ModeSimulate:
		log.Info("提交模拟", "from", rc.Relayer.Hex(), "to", b.To.Hex())
		sim, err := rb.simulator.Simulate(ctx, tenderly.SimulationRequest{
			ChainID: rc.ChainID,
			From:    rc.Relayer,
			To:      b.To,
			Input:   b.Calldata,
		})
		if err != nil {
			return collaborator(err, "模拟失败")
		}
		res.Simulation = sim
		if sim.Status {
			log.Info("模拟完成", "simulation_id", sim.ID, "status", "success")
		} else {
			log.Warn("模拟完成但交易回滚", "simulation_id", sim.ID, "status", "failed")
		}
		rb.audit.Info("dispatch",
			"run_id", rc.ID,
			"network", rb.network.Name,
			"mode", string(mode),
			"simulation_id", sim.ID,
			"simulation_status", sim.Status,
		)
		return nil

	case config.ModeRelay:
		gas, err := rb.chain.EstimateGas(ctx, web3.CallRequest{
			From:  rc.Relayer,
			To:    b.To,
			Data:  b.Calldata,
			Value: new(big.Int),
		})
		if err != nil {
			return collaborator(err, "估算 gas 失败")
		}
		res.GasUsed = gas
		if gas > rb.gasLimit {
			return xerrors.Newf(xerrors.CodeInvariantViolation, "估算 gas %d 超过上限 %d", gas, rb.gasLimit)
		}
		hash, err := rb.relayer.Send(ctx, web3.TxRequest{
			To:       b.To,
			Value:    new(big.Int),
			Data:     b.Calldata,
			GasLimit: rb.gasLimit,
		})
		if err != nil {
			return collaborator(err, "中继交易失败")
		}
		res.TxHash = hash.Hex()
		log.Info("交易已中继", "tx_hash", hash.Hex(), "gas_estimate", gas)
		rb.audit.Info("dispatch",
			"run_id", rc.ID,
			"network", rb.network.Name,
			"mode", string(mode),
			"tx_hash", hash.Hex(),
			"gas_estimate", gas,
		)
		return nil
	}
	return xerrors.Newf(xerrors.CodeInvalidArgument, "未知的运行模式: %q", mode)
}

// collaborator 把外部依赖返回的错误归类为 COLLABORATOR_FAILURE，已有错误码的保持不变。
func collaborator(err error, msg string) error {
	if xerrors.CodeOf(err) != xerrors.CodeUnknown {
		return err
	}
	return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, msg)
}
