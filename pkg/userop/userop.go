// Package userop implements ERC-4337 v0.6 user operations: hashing, RPC
// encoding and the EntryPoint calls that consume them.
package userop

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV06 is the canonical v0.6 EntryPoint deployment
var EntryPointV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// UserOperation is a v0.6 user operation. Field names match the EntryPoint
// ABI tuple so the struct packs directly into handleOps.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

var (
	packArgs abi.Arguments
	hashArgs abi.Arguments
)

func init() {
	addressT := mustNewType("address")
	uint256T := mustNewType("uint256")
	bytes32T := mustNewType("bytes32")

	packArgs = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: bytes32T},
	}
	hashArgs = abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
}

func mustNewType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Pack encodes the operation without its signature, hashing the dynamic fields
func (op *UserOperation) Pack() ([]byte, error) {
	return packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

// Hash returns the digest the account owner signs:
// keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainId))
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := op.Pack()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack user operation: %w", err)
	}
	enc, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, orZero(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Copy returns a deep copy of op
func (op *UserOperation) Copy() *UserOperation {
	cp := &UserOperation{
		Sender:           op.Sender,
		InitCode:         common.CopyBytes(op.InitCode),
		CallData:         common.CopyBytes(op.CallData),
		PaymasterAndData: common.CopyBytes(op.PaymasterAndData),
		Signature:        common.CopyBytes(op.Signature),
	}
	for _, f := range []struct{ dst **big.Int; src *big.Int }{
		{&cp.Nonce, op.Nonce},
		{&cp.CallGasLimit, op.CallGasLimit},
		{&cp.VerificationGasLimit, op.VerificationGasLimit},
		{&cp.PreVerificationGas, op.PreVerificationGas},
		{&cp.MaxFeePerGas, op.MaxFeePerGas},
		{&cp.MaxPriorityFeePerGas, op.MaxPriorityFeePerGas},
	} {
		if f.src != nil {
			*f.dst = new(big.Int).Set(f.src)
		}
	}
	return cp
}

// rpcUserOperation is the hex-encoded form bundlers accept
type rpcUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// MarshalJSON implements json.Marshaler
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(rpcUserOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(orZero(op.Nonce)),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         (*hexutil.Big)(orZero(op.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(orZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var rpc rpcUserOperation
	if err := json.Unmarshal(data, &rpc); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:               rpc.Sender,
		Nonce:                (*big.Int)(rpc.Nonce),
		InitCode:             rpc.InitCode,
		CallData:             rpc.CallData,
		CallGasLimit:         (*big.Int)(rpc.CallGasLimit),
		VerificationGasLimit: (*big.Int)(rpc.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(rpc.PreVerificationGas),
		MaxFeePerGas:         (*big.Int)(rpc.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(rpc.MaxPriorityFeePerGas),
		PaymasterAndData:     rpc.PaymasterAndData,
		Signature:            rpc.Signature,
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}

const entryPointABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"handleOps","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"ops","type":"tuple[]","components":[
			{"name":"sender","type":"address"},
			{"name":"nonce","type":"uint256"},
			{"name":"initCode","type":"bytes"},
			{"name":"callData","type":"bytes"},
			{"name":"callGasLimit","type":"uint256"},
			{"name":"verificationGasLimit","type":"uint256"},
			{"name":"preVerificationGas","type":"uint256"},
			{"name":"maxFeePerGas","type":"uint256"},
			{"name":"maxPriorityFeePerGas","type":"uint256"},
			{"name":"paymasterAndData","type":"bytes"},
			{"name":"signature","type":"bytes"}
		]},
		{"name":"beneficiary","type":"address"}],
	 "outputs":[]}
]`

// EntryPointABI is the subset of the v0.6 EntryPoint this module calls
var EntryPointABI = mustParseABI(entryPointABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

// PackGetNonce encodes EntryPoint.getNonce(sender, key)
func PackGetNonce(sender common.Address, key *big.Int) ([]byte, error) {
	return EntryPointABI.Pack("getNonce", sender, orZero(key))
}

// UnpackGetNonce decodes the getNonce return value
func UnpackGetNonce(data []byte) (*big.Int, error) {
	out, err := EntryPointABI.Unpack("getNonce", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack nonce: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected getNonce output")
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce output type %T", out[0])
	}
	return nonce, nil
}

// PackHandleOps encodes EntryPoint.handleOps(ops, beneficiary)
func PackHandleOps(ops []UserOperation, beneficiary common.Address) ([]byte, error) {
	normalized := make([]UserOperation, len(ops))
	for i := range ops {
		op := ops[i].Copy()
		op.Nonce = orZero(op.Nonce)
		op.CallGasLimit = orZero(op.CallGasLimit)
		op.VerificationGasLimit = orZero(op.VerificationGasLimit)
		op.PreVerificationGas = orZero(op.PreVerificationGas)
		op.MaxFeePerGas = orZero(op.MaxFeePerGas)
		op.MaxPriorityFeePerGas = orZero(op.MaxPriorityFeePerGas)
		normalized[i] = *op
	}
	return EntryPointABI.Pack("handleOps", normalized, beneficiary)
}
