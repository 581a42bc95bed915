package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Resolver turns ENS names into addresses.
type Resolver interface {
	ResolveName(ctx context.Context, name string) (common.Address, error)
}

// BalanceOracle reads native and ERC20 balances.
type BalanceOracle interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, account, token common.Address) (*big.Int, error)
}

// PriceFeed reads the latest answer of a Chainlink style aggregator.
type PriceFeed interface {
	LatestRate(ctx context.Context, feed common.Address) (decimal.Decimal, error)
}

// CallRequest is the subset of an eth_call / eth_estimateGas request the
// relayer path needs.
type CallRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// GasEstimator estimates the gas a call would use.
type GasEstimator interface {
	EstimateGas(ctx context.Context, req CallRequest) (uint64, error)
}

// TxRequest describes a transaction handed to a Relayer.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Relayer signs and broadcasts transactions on behalf of a fixed account.
type Relayer interface {
	Address() common.Address
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
}

// ChainClient bundles the read side of a network connection.
type ChainClient interface {
	Resolver
	BalanceOracle
	PriceFeed
	GasEstimator
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}
