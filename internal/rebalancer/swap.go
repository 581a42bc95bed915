package rebalancer

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"Treasury-Rebalancer/internal/batch"
	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/strategy"
	"Treasury-Rebalancer/internal/treasury"
)

// DepositAndSwapInput 描述一次 “WETH 存入 + 兑换 + 剩余分配” 所需的输入。
type DepositAndSwapInput struct {
	// Balance 是多签钱包的全部 ETH，会被完整存入 WETH。
	Balance *big.Int
	// Available 是本次允许用于兑换的 ETH，为空时等于 Balance。
	Available *big.Int
	// Destination 接收买入的稳定币，可以是地址或 ENS 名称。
	Destination string
	// Multisig 是下单方。
	Multisig common.Address
	// Shortfalls 只包含存在缺口的资产。
	Shortfalls treasury.Holdings
}

// DepositAndSwap 是 CreateDepositAndSwap 的产出。
type DepositAndSwap struct {
	Operations []batch.Operation
	Plan       *strategy.Plan
	Deposit    *big.Int
	Spend      *big.Int
	Remainder  *big.Int
}

// builder 按固定顺序生成批量交易中的各个操作。
type builder struct {
	network  *config.Network
	encoder  *batch.Encoder
	selector *strategy.Selector
	weth     common.Address
	logger   *slog.Logger
}

func newBuilder(network *config.Network, encoder *batch.Encoder, selector *strategy.Selector, log *slog.Logger) *builder {
	return &builder{
		network:  network,
		encoder:  encoder,
		selector: selector,
		weth:     config.Address(network.WETH),
		logger:   log,
	}
}

type transfer struct {
	to  common.Address
	pct uint64
}

// CreateDepositAndSwap 生成规范顺序中的第 3 到第 8 步：
// 存入 WETH、授权 vault relayer、下单并 approveOrder、分配剩余 WETH、撤销两次授权。
// 任何一步失败都直接返回错误，不会返回部分操作。
func (b *builder) CreateDepositAndSwap(ctx context.Context, in DepositAndSwapInput) (*DepositAndSwap, error) {
	if in.Balance == nil || in.Balance.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "多签钱包没有可存入的 ETH")
	}

	// 在请求任何报价之前完成全部地址校验。
	receiver, err := b.encoder.Resolve(ctx, in.Destination)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOf(err), err, "稳定币接收地址不合法")
	}
	if in.Multisig == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidAddress, "缺少多签钱包地址")
	}
	recipients, err := b.resolveRecipients(ctx)
	if err != nil {
		return nil, err
	}

	available := new(big.Int).Set(in.Balance)
	if in.Available != nil && in.Available.Cmp(available) < 0 {
		available.Set(in.Available)
	}

	var ops []batch.Operation
	deposit, err := b.encoder.DepositWrapped(ctx, b.network.WETH, in.Balance)
	if err != nil {
		return nil, err
	}
	ops = append(ops, deposit)

	spend := new(big.Int)
	var plan *strategy.Plan
	swapping := in.Shortfalls.Len() > 0
	if swapping {
		if err := b.network.ValidateSwap(); err != nil {
			return nil, err
		}
		plan, err = b.selector.Plan(ctx, strategy.Input{
			Shortfalls: in.Shortfalls,
			Available:  available,
			SellToken:  b.weth,
			From:       in.Multisig,
			Receiver:   receiver,
		})
		if err != nil {
			return nil, err
		}
		spend.Set(plan.TotalSpend)

		approve, err := b.encoder.Approve(ctx, b.network.WETH, b.network.VaultRelayer, spend)
		if err != nil {
			return nil, err
		}
		ops = append(ops, approve)
		for _, order := range plan.Orders {
			ops = append(ops, order.Operation)
		}
	}

	remainder := new(big.Int).Sub(in.Balance, spend)
	if remainder.Sign() < 0 {
		return nil, xerrors.Newf(xerrors.CodeInvariantViolation, "兑换花费 %s 超过存入金额 %s", spend, in.Balance)
	}
	if remainder.Sign() > 0 {
		approve, err := b.encoder.Approve(ctx, b.network.WETH, b.network.RolesModifier, remainder)
		if err != nil {
			return nil, err
		}
		ops = append(ops, approve)
		for _, r := range recipients {
			amount := new(big.Int).Mul(remainder, new(big.Int).SetUint64(r.pct))
			// 向下取整后为 0 的份额仍然生成转账，每个接收方恰好一笔。
			amount.Quo(amount, big.NewInt(100))
			op, err := b.encoder.Transfer(ctx, b.network.WETH, r.to.Hex(), amount)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}

	if swapping {
		revoke, err := b.encoder.Approve(ctx, b.network.WETH, b.network.VaultRelayer, new(big.Int))
		if err != nil {
			return nil, err
		}
		ops = append(ops, revoke)
	}
	revoke, err := b.encoder.Approve(ctx, b.network.WETH, b.network.RolesModifier, new(big.Int))
	if err != nil {
		return nil, err
	}
	ops = append(ops, revoke)

	b.logger.Info("兑换操作已生成",
		"deposit_wei", in.Balance.String(),
		"spend_wei", spend.String(),
		"remainder_wei", remainder.String(),
		"operations", len(ops),
	)
	return &DepositAndSwap{
		Operations: ops,
		Plan:       plan,
		Deposit:    new(big.Int).Set(in.Balance),
		Spend:      spend,
		Remainder:  remainder,
	}, nil
}

func (b *builder) resolveRecipients(ctx context.Context) ([]transfer, error) {
	out := make([]transfer, 0, len(b.network.Recipients))
	var total uint64
	for _, r := range b.network.Recipients {
		addr, err := b.encoder.Resolve(ctx, r.Address)
		if err != nil {
			return nil, err
		}
		total += r.Pct
		out = append(out, transfer{to: addr, pct: r.Pct})
	}
	if total > 100 {
		return nil, xerrors.Newf(xerrors.CodeInvariantViolation, "剩余分配比例合计 %d%% 超过 100%%", total)
	}
	return out, nil
}

// forwardStablecoins 把多签钱包中已有的稳定币转给资金来源钱包（规范顺序第 1 步）。
func (b *builder) forwardStablecoins(ctx context.Context, multisig treasury.Holdings, destination string) ([]batch.Operation, error) {
	available := treasury.FilterNonZero(multisig)
	ops := make([]batch.Operation, 0, available.Len())
	for _, a := range available.All() {
		op, err := b.encoder.Transfer(ctx, a.Token.Hex(), destination, a.Balance)
		if err != nil {
			return nil, err
		}
		b.logger.Info("转发多签钱包中的稳定币", "symbol", a.Symbol, "amount", a.Units.Format(a.Balance).String())
		ops = append(ops, op)
	}
	return ops, nil
}

// controllerWithdraw 生成规范顺序第 2 步。
func (b *builder) controllerWithdraw(ctx context.Context) (batch.Operation, error) {
	return b.encoder.ControllerWithdraw(ctx, b.network.Controller)
}
