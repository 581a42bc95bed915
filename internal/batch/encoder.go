package batch

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/validate"
	"Treasury-Rebalancer/internal/web3"
)

// Order kinds and balance tags accepted by the settlement contract.
const (
	OrderKindBuy    = "buy"
	OrderKindSell   = "sell"
	BalanceERC20    = "erc20"
	BalanceExternal = "external"
	BalanceInternal = "internal"
)

// OrderApproval carries the fields of a placed order that approveOrder
// commits on chain.
type OrderApproval struct {
	SellToken        string
	BuyToken         string
	Receiver         string
	SellAmount       *big.Int
	BuyAmount        *big.Int
	FeeAmount        *big.Int
	ValidTo          int64
	Kind             string
	SellTokenBalance string
	BuyTokenBalance  string
	OrderUID         string
}

// Encoder builds single Safe operations. Address arguments may be hex
// addresses or ENS names; names need a Resolver.
type Encoder struct {
	resolver web3.Resolver
}

// NewEncoder returns an encoder. resolver may be nil when every address is
// given in hex.
func NewEncoder(resolver web3.Resolver) *Encoder {
	return &Encoder{resolver: resolver}
}

// Resolve validates s and turns it into an address.
func (e *Encoder) Resolve(ctx context.Context, s string) (common.Address, error) {
	acct, err := validate.ParseAccount(s)
	if err != nil {
		return common.Address{}, err
	}
	if acct.Kind == validate.KindAddress {
		return acct.Address, nil
	}
	if e.resolver == nil {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidAddress, "cannot resolve %q: no name resolver configured", acct.Name)
	}
	addr, err := e.resolver.ResolveName(ctx, acct.Name)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "resolve "+acct.Name)
	}
	if addr == (common.Address{}) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidAddress, "%q does not resolve to an address", acct.Name)
	}
	return addr, nil
}

// Operation.Data is always a private copy of the packed call. With no
// arguments abi.Pack returns the parsed method's selector slice itself, and
// callers are free to edit what they get back.

// DepositWrapped wraps amount of native currency through the WETH contract.
func (e *Encoder) DepositWrapped(ctx context.Context, weth string, amount *big.Int) (Operation, error) {
	to, err := e.Resolve(ctx, weth)
	if err != nil {
		return Operation{}, err
	}
	if err := validate.CheckAmount(amount); err != nil {
		return Operation{}, err
	}
	data, err := erc20ABI.Pack("deposit")
	if err != nil {
		return Operation{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode deposit")
	}
	return Operation{Kind: Call, To: to, Value: new(big.Int).Set(amount), Data: common.CopyBytes(data), Label: "weth.deposit"}, nil
}

// Approve sets spender's allowance on token to amount. A zero amount revokes.
func (e *Encoder) Approve(ctx context.Context, token, spender string, amount *big.Int) (Operation, error) {
	return e.erc20Call(ctx, "approve", token, spender, amount)
}

// Transfer moves amount of token to the recipient.
func (e *Encoder) Transfer(ctx context.Context, token, to string, amount *big.Int) (Operation, error) {
	return e.erc20Call(ctx, "transfer", token, to, amount)
}

func (e *Encoder) erc20Call(ctx context.Context, method, token, counterparty string, amount *big.Int) (Operation, error) {
	tokenAddr, err := e.Resolve(ctx, token)
	if err != nil {
		return Operation{}, err
	}
	other, err := e.Resolve(ctx, counterparty)
	if err != nil {
		return Operation{}, err
	}
	if err := validate.CheckAmount(amount); err != nil {
		return Operation{}, err
	}
	data, err := erc20ABI.Pack(method, other, amount)
	if err != nil {
		return Operation{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+method)
	}
	return Operation{Kind: Call, To: tokenAddr, Value: new(big.Int), Data: common.CopyBytes(data), Label: "erc20." + method}, nil
}

// ControllerWithdraw sweeps the ENS controller's balance to its owner.
func (e *Encoder) ControllerWithdraw(ctx context.Context, controller string) (Operation, error) {
	to, err := e.Resolve(ctx, controller)
	if err != nil {
		return Operation{}, err
	}
	data, err := controllerABI.Pack("withdraw")
	if err != nil {
		return Operation{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode withdraw")
	}
	return Operation{Kind: Call, To: to, Value: new(big.Int), Data: common.CopyBytes(data), Label: "controller.withdraw"}, nil
}

// ApproveOrder pre-signs a placed order on the settlement contract. It runs
// as a delegate call through the roles multisend so the Safe is the signer.
func (e *Encoder) ApproveOrder(ctx context.Context, settlement string, order OrderApproval) (Operation, error) {
	to, err := e.Resolve(ctx, settlement)
	if err != nil {
		return Operation{}, err
	}
	sellToken, err := e.Resolve(ctx, order.SellToken)
	if err != nil {
		return Operation{}, err
	}
	buyToken, err := e.Resolve(ctx, order.BuyToken)
	if err != nil {
		return Operation{}, err
	}
	receiver, err := e.Resolve(ctx, order.Receiver)
	if err != nil {
		return Operation{}, err
	}
	for _, amount := range []*big.Int{order.SellAmount, order.BuyAmount} {
		if err := validate.CheckPositive(amount); err != nil {
			return Operation{}, err
		}
	}
	if err := validate.CheckAmount(order.FeeAmount); err != nil {
		return Operation{}, err
	}
	if !validate.IsValidTimestamp(order.ValidTo) {
		return Operation{}, xerrors.Newf(xerrors.CodeInvalidTimestamp, "validTo %d is not a uint32 unix time", order.ValidTo)
	}
	if order.Kind != OrderKindBuy && order.Kind != OrderKindSell {
		return Operation{}, xerrors.Newf(xerrors.CodeInvalidArgument, "order kind %q must be buy or sell", order.Kind)
	}
	if !isHexString(order.OrderUID) {
		return Operation{}, xerrors.Newf(xerrors.CodeInvalidArgument, "order uid %q is not hex", order.OrderUID)
	}
	kind, err := Bytes32String(order.Kind)
	if err != nil {
		return Operation{}, err
	}
	sellBalance, err := balanceTag(order.SellTokenBalance)
	if err != nil {
		return Operation{}, err
	}
	buyBalance, err := balanceTag(order.BuyTokenBalance)
	if err != nil {
		return Operation{}, err
	}

	data, err := settlementABI.Pack("approveOrder",
		sellToken,
		buyToken,
		receiver,
		order.SellAmount,
		order.BuyAmount,
		uint32(order.ValidTo),
		order.FeeAmount,
		kind,
		sellBalance,
		buyBalance,
	)
	if err != nil {
		return Operation{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode approveOrder")
	}
	return Operation{Kind: DelegateCall, To: to, Value: new(big.Int), Data: common.CopyBytes(data), Label: "gpv2.approveOrder"}, nil
}

func balanceTag(tag string) ([32]byte, error) {
	if tag == "" {
		tag = BalanceERC20
	}
	switch tag {
	case BalanceERC20, BalanceExternal, BalanceInternal:
		return Bytes32String(tag)
	default:
		return [32]byte{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown token balance %q", tag)
	}
}

// Bytes32String stores s left aligned in a zero padded bytes32. s must leave
// room for a terminating zero byte.
func Bytes32String(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > 31 {
		return out, xerrors.Newf(xerrors.CodeInvalidArgument, "%q is too long for bytes32", s)
	}
	copy(out[:], s)
	return out, nil
}

func isHexString(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
