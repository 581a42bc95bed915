package batch

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// DefaultRole is the roles modifier role granted to the relayer.
const DefaultRole uint16 = 1

// Batch is an assembled run. It is never modified after Assemble returns.
type Batch struct {
	Operations []Operation
	// MultiSendData is the multiSend(bytes) calldata.
	MultiSendData []byte
	// To is the roles modifier and Calldata the execTransactionWithRole call
	// the relayer sends to it.
	To       common.Address
	Calldata []byte
}

// Assembler wraps operations in multiSend and then in execTransactionWithRole.
type Assembler struct {
	multiSend    common.Address
	roleModifier common.Address
	role         uint16
}

// NewAssembler returns an assembler for one network's Safe setup.
func NewAssembler(multiSend, roleModifier common.Address, role uint16) (*Assembler, error) {
	if multiSend == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidAddress, "multisend address is required")
	}
	if roleModifier == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidAddress, "roles modifier address is required")
	}
	return &Assembler{multiSend: multiSend, roleModifier: roleModifier, role: role}, nil
}

// Assemble packs ops in order. Either the full batch or an error is returned.
func (a *Assembler) Assemble(ops []*Operation) (*Batch, error) {
	if len(ops) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "batch has no operations")
	}
	flat := make([]Operation, 0, len(ops))
	for i, op := range ops {
		if op == nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "operation %d is missing", i)
		}
		cp := *op
		cp.Data = append([]byte(nil), op.Data...)
		if op.Value != nil {
			cp.Value = new(big.Int).Set(op.Value)
		}
		flat = append(flat, cp)
	}

	payload, err := PackAll(flat)
	if err != nil {
		return nil, err
	}
	multiSendData, err := multiSendABI.Pack("multiSend", payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode multiSend")
	}
	calldata, err := rolesABI.Pack("execTransactionWithRole",
		a.multiSend,
		new(big.Int),
		multiSendData,
		uint8(DelegateCall),
		a.role,
		false,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode execTransactionWithRole")
	}
	return &Batch{
		Operations:    flat,
		MultiSendData: multiSendData,
		To:            a.roleModifier,
		Calldata:      calldata,
	}, nil
}

// RoleCall is the decoded form of an execTransactionWithRole call.
type RoleCall struct {
	To           common.Address
	Value        *big.Int
	Data         []byte
	Operation    Kind
	Role         uint16
	ShouldRevert bool
}

// DecodeRoleCall parses execTransactionWithRole calldata.
func DecodeRoleCall(calldata []byte) (*RoleCall, error) {
	method := rolesABI.Methods["execTransactionWithRole"]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "calldata is not execTransactionWithRole")
	}
	vals, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode execTransactionWithRole")
	}
	return &RoleCall{
		To:           vals[0].(common.Address),
		Value:        vals[1].(*big.Int),
		Data:         vals[2].([]byte),
		Operation:    Kind(vals[3].(uint8)),
		Role:         vals[4].(uint16),
		ShouldRevert: vals[5].(bool),
	}, nil
}

// DecodeMultiSend returns the operations inside multiSend(bytes) calldata.
func DecodeMultiSend(calldata []byte) ([]Operation, error) {
	method := multiSendABI.Methods["multiSend"]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "calldata is not multiSend")
	}
	vals, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode multiSend")
	}
	return DecodeOperations(vals[0].([]byte))
}

// DecodeBatch reverses Assemble, for inspecting calldata produced elsewhere.
func DecodeBatch(calldata []byte) (*RoleCall, []Operation, error) {
	call, err := DecodeRoleCall(calldata)
	if err != nil {
		return nil, nil, err
	}
	ops, err := DecodeMultiSend(call.Data)
	if err != nil {
		return nil, nil, err
	}
	return call, ops, nil
}
