// Package account provisions the Coinbase Smart Wallet (v1) account that
// holds the user's funds and encodes the calls it executes.
package account

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"smartswap/pkg/apperr"
	"smartswap/pkg/signer"
	"smartswap/pkg/types"
	"smartswap/pkg/userop"
)

// CoinbaseFactoryV1 is the Coinbase Smart Wallet v1 factory
var CoinbaseFactoryV1 = common.HexToAddress("0x0BA5ED0c6AA8c49038F819E587E2633c4A9F428a")

// ErrAccountUnavailable is returned by every failed provisioning
var ErrAccountUnavailable = &apperr.Error{
	Kind:    apperr.KindTransport,
	Code:    "ACCOUNT_UNAVAILABLE",
	Message: "Smart account is not available",
}

// stubSignature is a well-formed signature used for gas estimation
var stubSignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// SmartAccount is an ERC-4337 account that can batch calls and sign user operations
type SmartAccount interface {
	Address() common.Address
	Owner() common.Address
	ChainID() *big.Int
	EntryPoint() common.Address
	// InitCode returns the deployment code, or nil once the account is deployed
	InitCode(ctx context.Context) ([]byte, error)
	EncodeExecuteBatch(calls []types.BatchCall) ([]byte, error)
	SignUserOperation(ctx context.Context, op *userop.UserOperation) ([]byte, error)
	DummySignature() []byte
}

// ChainReader is the subset of ethclient the accounts need
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

const factoryABIJSON = `[
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owners","type":"bytes[]"},{"name":"nonce","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"createAccount","stateMutability":"payable",
	 "inputs":[{"name":"owners","type":"bytes[]"},{"name":"nonce","type":"uint256"}],
	 "outputs":[{"name":"account","type":"address"}]}
]`

const accountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable",
	 "inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
		{"name":"target","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"}]}],
	 "outputs":[]}
]`

var (
	factoryABI = mustParseABI(factoryABIJSON)
	accountABI = mustParseABI(accountABIJSON)

	addressArgs   abi.Arguments
	signatureArgs abi.Arguments
)

func init() {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	addressArgs = abi.Arguments{{Type: addressT}}

	wrapperT, err := abi.NewType("tuple", "SignatureWrapper", []abi.ArgumentMarshaling{
		{Name: "ownerIndex", Type: "uint8"},
		{Name: "signatureData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	signatureArgs = abi.Arguments{{Type: wrapperT}}
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

// call mirrors the Call struct of CoinbaseSmartWallet.executeBatch
type call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

type signatureWrapper struct {
	OwnerIndex    uint8
	SignatureData []byte
}

// EncodeOwner encodes an EOA owner the way the wallet stores it
func EncodeOwner(owner common.Address) ([]byte, error) {
	return addressArgs.Pack(owner)
}

// WrapSignature encodes abi.encode(SignatureWrapper{ownerIndex, signatureData})
func WrapSignature(ownerIndex uint8, sig []byte) ([]byte, error) {
	return signatureArgs.Pack(signatureWrapper{OwnerIndex: ownerIndex, SignatureData: sig})
}

// EncodeExecuteBatch encodes executeBatch(calls)
func EncodeExecuteBatch(calls []types.BatchCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to execute")
	}
	out := make([]call, len(calls))
	for i, c := range calls {
		v := c.Value
		if v == nil {
			v = new(big.Int)
		}
		out[i] = call{Target: c.Target, Value: v, Data: c.Data}
	}
	data, err := accountABI.Pack("executeBatch", out)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeBatch: %w", err)
	}
	return data, nil
}

// CoinbaseAccount is a Coinbase Smart Wallet v1 owned by a single EOA signer
type CoinbaseAccount struct {
	address    common.Address
	signer     signer.Signer
	ownerIndex uint8
	salt       *big.Int
	factory    common.Address
	entryPoint common.Address
	chainID    *big.Int
	chain      ChainReader
}

// Address returns the smart account address
func (a *CoinbaseAccount) Address() common.Address { return a.address }

// Owner returns the signer address that owns the account
func (a *CoinbaseAccount) Owner() common.Address { return a.signer.Address() }

// ChainID returns the chain the account lives on
func (a *CoinbaseAccount) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// EntryPoint returns the EntryPoint the account trusts
func (a *CoinbaseAccount) EntryPoint() common.Address { return a.entryPoint }

// DummySignature returns a wrapped stub signature for gas estimation
func (a *CoinbaseAccount) DummySignature() []byte {
	sig, err := WrapSignature(a.ownerIndex, stubSignature)
	if err != nil {
		panic(err)
	}
	return sig
}

// InitCode returns factory ‖ createAccount(owners, salt) while the account
// has no code on chain.
func (a *CoinbaseAccount) InitCode(ctx context.Context) ([]byte, error) {
	code, err := a.chain.CodeAt(ctx, a.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account code: %w", err)
	}
	if len(code) > 0 {
		return nil, nil
	}

	owner, err := EncodeOwner(a.signer.Address())
	if err != nil {
		return nil, err
	}
	data, err := factoryABI.Pack("createAccount", [][]byte{owner}, a.salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}
	return append(a.factory.Bytes(), data...), nil
}

// EncodeExecuteBatch encodes the batch for this account
func (a *CoinbaseAccount) EncodeExecuteBatch(calls []types.BatchCall) ([]byte, error) {
	return EncodeExecuteBatch(calls)
}

// SignUserOperation signs the operation hash with the owner and wraps the result
func (a *CoinbaseAccount) SignUserOperation(ctx context.Context, op *userop.UserOperation) ([]byte, error) {
	withSender := op.Copy()
	withSender.Sender = a.address

	hash, err := withSender.Hash(a.entryPoint, a.chainID)
	if err != nil {
		return nil, err
	}
	sig, err := a.signer.SignHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation: %w", err)
	}
	return WrapSignature(a.ownerIndex, sig)
}

var _ SmartAccount = (*CoinbaseAccount)(nil)
