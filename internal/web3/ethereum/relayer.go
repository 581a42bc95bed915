package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"Treasury-Rebalancer/internal/web3"
)

// KeyedRelayer signs EIP-1559 transactions with a locally held key.
type KeyedRelayer struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  coretypes.Signer
}

var _ web3.Relayer = (*KeyedRelayer)(nil)

// NewRelayer parses a hex private key and binds it to the backend's chain.
func NewRelayer(ctx context.Context, backend TxBackend, hexKey string) (*KeyedRelayer, error) {
	if backend == nil {
		return nil, fmt.Errorf("未提供交易后端")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析中继私钥失败: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return &KeyedRelayer{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  coretypes.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the account the relayer sends from.
func (r *KeyedRelayer) Address() common.Address { return r.from }

// Send signs req with the relayer key and broadcasts it. The gas limit is
// taken from req as is; fees follow the latest base fee plus the suggested tip.
func (r *KeyedRelayer) Send(ctx context.Context, req web3.TxRequest) (common.Hash, error) {
	if req.GasLimit == 0 {
		return common.Hash{}, fmt.Errorf("交易缺少 gas 上限")
	}
	nonce, err := r.backend.PendingNonceAt(ctx, r.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       req.GasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := coretypes.SignTx(tx, r.signer, r.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return signed.Hash(), nil
}
