// Package bundler prepares user operations and submits them, either to an
// ERC-4337 bundler or directly to the EntryPoint through a relayer key.
package bundler

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"smartswap/pkg/account"
	"smartswap/pkg/userop"
)

// RPCCaller is a raw JSON-RPC connection (rpc.Client satisfies it)
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// ChainBackend is the subset of ethclient used to prepare operations
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// GasEstimate are the three gas fields of a user operation
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// Estimator fills in gas limits for an operation carrying a dummy signature
type Estimator interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*GasEstimate, error)
}

// StaticEstimator returns fixed limits. The relayer uses it since no bundler
// simulates the operation.
type StaticEstimator struct {
	CallGasLimit         uint64
	VerificationGasLimit uint64
	DeployGasLimit       uint64
	PreVerificationGas   uint64
}

// DefaultStaticEstimator covers an approve plus a router call
var DefaultStaticEstimator = StaticEstimator{
	CallGasLimit:         800_000,
	VerificationGasLimit: 150_000,
	DeployGasLimit:       500_000,
	PreVerificationGas:   80_000,
}

// EstimateUserOperationGas implements Estimator
func (e StaticEstimator) EstimateUserOperationGas(_ context.Context, op *userop.UserOperation, _ common.Address) (*GasEstimate, error) {
	verification := e.VerificationGasLimit
	if len(op.InitCode) > 0 {
		verification += e.DeployGasLimit
	}
	return &GasEstimate{
		PreVerificationGas:   new(big.Int).SetUint64(e.PreVerificationGas),
		VerificationGasLimit: new(big.Int).SetUint64(verification),
		CallGasLimit:         new(big.Int).SetUint64(e.CallGasLimit),
	}, nil
}

// Preparer fills in nonce, init code, fees and gas for a call
type Preparer struct {
	chain     ChainBackend
	estimator Estimator
	logger    *zap.Logger
}

// NewPreparer creates a preparer
func NewPreparer(chain ChainBackend, estimator Estimator, logger *zap.Logger) *Preparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{chain: chain, estimator: estimator, logger: logger}
}

// PrepareUserOperation builds an unsigned operation executing callData on acct
func (p *Preparer) PrepareUserOperation(ctx context.Context, acct account.SmartAccount, callData []byte) (*userop.UserOperation, error) {
	nonce, err := p.nonce(ctx, acct)
	if err != nil {
		return nil, err
	}

	initCode, err := acct.InitCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get init code: %w", err)
	}

	gasPrice, err := p.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	tip, err := p.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip: %w", err)
	}

	op := &userop.UserOperation{
		Sender:               acct.Address(),
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		MaxFeePerGas:         new(big.Int).Add(gasPrice, tip),
		MaxPriorityFeePerGas: tip,
	}

	stub := op.Copy()
	stub.Signature = acct.DummySignature()
	gas, err := p.estimator.EstimateUserOperationGas(ctx, stub, acct.EntryPoint())
	if err != nil {
		return nil, fmt.Errorf("failed to estimate user operation gas: %w", err)
	}
	op.PreVerificationGas = gas.PreVerificationGas
	op.VerificationGasLimit = gas.VerificationGasLimit
	op.CallGasLimit = gas.CallGasLimit

	p.logger.Debug("user operation prepared",
		zap.String("sender", op.Sender.Hex()),
		zap.String("nonce", op.Nonce.String()),
		zap.Bool("deploy", len(initCode) > 0),
		zap.String("call_gas", op.CallGasLimit.String()))
	return op, nil
}

func (p *Preparer) nonce(ctx context.Context, acct account.SmartAccount) (*big.Int, error) {
	data, err := userop.PackGetNonce(acct.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	entryPoint := acct.EntryPoint()
	out, err := p.chain.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	return userop.UnpackGetNonce(out)
}

type rpcGasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// RPCEstimator asks the bundler via eth_estimateUserOperationGas
type RPCEstimator struct {
	rpc RPCCaller
}

// NewRPCEstimator creates an estimator over a bundler connection
func NewRPCEstimator(rpc RPCCaller) *RPCEstimator {
	return &RPCEstimator{rpc: rpc}
}

// EstimateUserOperationGas implements Estimator
func (e *RPCEstimator) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*GasEstimate, error) {
	var out rpcGasEstimate
	if err := e.rpc.CallContext(ctx, &out, "eth_estimateUserOperationGas", op, entryPoint); err != nil {
		return nil, err
	}
	if out.PreVerificationGas == nil || out.VerificationGasLimit == nil || out.CallGasLimit == nil {
		return nil, fmt.Errorf("bundler returned an incomplete gas estimate")
	}
	return &GasEstimate{
		PreVerificationGas:   out.PreVerificationGas.ToInt(),
		VerificationGasLimit: out.VerificationGasLimit.ToInt(),
		CallGasLimit:         out.CallGasLimit.ToInt(),
	}, nil
}
