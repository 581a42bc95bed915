package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"Treasury-Rebalancer/internal/web3"
)

// feedDecimals is the precision of the Chainlink ETH/USD answer.
const feedDecimals = 8

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	Timeout time.Duration
}

// ReadBackend is the read side of an execution client.
type ReadBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxBackend is what the relayer needs to price, sign and broadcast.
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Backend is satisfied by *ethclient.Client and the simulated backend client.
type Backend interface {
	ReadBackend
	TxBackend
}

// Client implements web3.ChainClient over JSON-RPC.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   Backend
	timeout   time.Duration
	mu        sync.Mutex
}

var _ web3.ChainClient = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("网络 %s 未配置以太坊 RPC 地址", cfg.Name)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)
	return &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		timeout:   cfg.Timeout,
	}, nil
}

// NewBackendClient wraps an existing backend, such as the go-ethereum
// simulated backend in tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the network the client was created for.
func (c *Client) Name() string { return c.name }

// Backend exposes the underlying backend so a relayer can share the connection.
func (c *Client) Backend() Backend { return c.backend }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

func (c *Client) ready() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// NativeBalance returns the latest ETH balance of account.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 余额失败: %w", account.Hex(), err)
	}
	return balance, nil
}

// TokenBalance calls balanceOf(account) on token.
func (c *Client) TokenBalance(ctx context.Context, account, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, "balanceOf", erc20ABI, account)
	if err != nil {
		return nil, fmt.Errorf("查询代币 %s 余额失败: %w", token.Hex(), err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("代币 %s 返回了非预期的余额类型 %T", token.Hex(), out[0])
	}
	return balance, nil
}

// LatestRate reads latestRoundData from a Chainlink aggregator and scales
// the answer by its 8 decimals.
func (c *Client) LatestRate(ctx context.Context, feed common.Address) (decimal.Decimal, error) {
	out, err := c.call(ctx, feed, "latestRoundData", aggregatorABI)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("查询价格源 %s 失败: %w", feed.Hex(), err)
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("价格源 %s 返回了无效的报价 %v", feed.Hex(), out[1])
	}
	return decimal.NewFromBigInt(answer, -feedDecimals), nil
}

// EstimateGas estimates the gas used by req at the latest block.
func (c *Client) EstimateGas(ctx context.Context, req web3.CallRequest) (uint64, error) {
	backend, err := c.ready()
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	to := req.To
	gas, err := backend.EstimateGas(ctx, gethcore.CallMsg{
		From:  req.From,
		To:    &to,
		Data:  req.Data,
		Value: req.Value,
	})
	if err != nil {
		return 0, fmt.Errorf("估算 gas 失败: %w", err)
	}
	return gas, nil
}

func (c *Client) call(ctx context.Context, to common.Address, method string, contract abi.ABI, args ...any) ([]any, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 失败: %w", method, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	raw, err := backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s 没有返回数据，地址 %s 可能不是合约", method, to.Hex())
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 失败: %w", method, err)
	}
	return out, nil
}
