package ethereum

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"Treasury-Rebalancer/internal/validate"
)

// NameHash computes the ENS namehash of an already normalised name.
func NameHash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), label))
	}
	return node
}

// ResolveName looks up the resolver of name in the ENS registry and asks it
// for the address record. An unregistered name yields the zero address.
func (c *Client) ResolveName(ctx context.Context, name string) (common.Address, error) {
	normalized, err := validate.NormalizeENS(name)
	if err != nil {
		return common.Address{}, err
	}
	node := NameHash(normalized)

	out, err := c.call(ctx, ensRegistry, "resolver", ensRegistryABI, node)
	if err != nil {
		return common.Address{}, fmt.Errorf("查询 %s 的解析器失败: %w", normalized, err)
	}
	resolver, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ENS 注册表返回了非预期的类型 %T", out[0])
	}
	if resolver == (common.Address{}) {
		return common.Address{}, nil
	}

	out, err = c.call(ctx, resolver, "addr", ensResolverABI, node)
	if err != nil {
		return common.Address{}, fmt.Errorf("解析 %s 失败: %w", normalized, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ENS 解析器返回了非预期的类型 %T", out[0])
	}
	return addr, nil
}
