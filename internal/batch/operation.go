// Package batch encodes the individual Safe operations of a rebalancing run
// and assembles them into one MultiSend call executed through a Zodiac Roles
// modifier.
package batch

import (
	"encoding/binary"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/validate"
)

// Kind is the Safe operation type.
type Kind uint8

const (
	Call         Kind = 0
	DelegateCall Kind = 1
)

func (k Kind) String() string {
	switch k {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	default:
		return "unknown"
	}
}

// headerLen is kind(1) + to(20) + value(32) + data length(32).
const headerLen = 1 + common.AddressLength + 32 + 32

// Operation is one call inside a MultiSend payload.
type Operation struct {
	Kind  Kind
	To    common.Address
	Value *big.Int
	Data  []byte
	// Label describes the operation in logs. It is not encoded.
	Label string
}

// Pack returns the MultiSend encoding of op:
// uint8 kind | address to | uint256 value | uint256 len(data) | data.
func (op Operation) Pack() ([]byte, error) {
	if op.Kind != Call && op.Kind != DelegateCall {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown operation kind %d", op.Kind)
	}
	value := op.Value
	if value == nil {
		value = new(big.Int)
	}
	if err := validate.CheckAmount(value); err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLen+len(op.Data))
	out = append(out, byte(op.Kind))
	out = append(out, op.To.Bytes()...)
	out = append(out, math.U256Bytes(new(big.Int).Set(value))...)
	out = append(out, math.U256Bytes(new(big.Int).SetUint64(uint64(len(op.Data))))...)
	out = append(out, op.Data...)
	return out, nil
}

// DecodeOperation reads one packed operation from the front of b and reports
// how many bytes it consumed.
func DecodeOperation(b []byte) (Operation, int, error) {
	if len(b) < headerLen {
		return Operation{}, 0, xerrors.Newf(xerrors.CodeInvalidArgument, "packed operation truncated: %d bytes", len(b))
	}
	kind := Kind(b[0])
	if kind != Call && kind != DelegateCall {
		return Operation{}, 0, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown operation kind %d", b[0])
	}
	to := common.BytesToAddress(b[1 : 1+common.AddressLength])
	offset := 1 + common.AddressLength
	value := new(big.Int).SetBytes(b[offset : offset+32])
	offset += 32

	lenWord := b[offset : offset+32]
	offset += 32
	for _, x := range lenWord[:24] {
		if x != 0 {
			return Operation{}, 0, xerrors.New(xerrors.CodeInvalidArgument, "data length does not fit in 64 bits")
		}
	}
	dataLen := binary.BigEndian.Uint64(lenWord[24:])
	if uint64(len(b)-offset) < dataLen {
		return Operation{}, 0, xerrors.Newf(xerrors.CodeInvalidArgument, "packed data truncated: want %d bytes, have %d", dataLen, len(b)-offset)
	}
	end := offset + int(dataLen)
	data := append([]byte(nil), b[offset:end]...)
	return Operation{Kind: kind, To: to, Value: value, Data: data}, end, nil
}

// DecodeOperations splits a MultiSend transactions payload into operations.
func DecodeOperations(b []byte) ([]Operation, error) {
	var ops []Operation
	for len(b) > 0 {
		op, n, err := DecodeOperation(b)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		b = b[n:]
	}
	return ops, nil
}

// PackAll concatenates the packed form of ops. Any failure discards the whole
// result.
func PackAll(ops []Operation) ([]byte, error) {
	var out []byte
	for i, op := range ops {
		packed, err := op.Pack()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, "operation "+strconv.Itoa(i))
		}
		out = append(out, packed...)
	}
	return out, nil
}
