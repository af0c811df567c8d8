package bundler

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"smartswap/pkg/userop"
)

// Result identifies a submitted operation
type Result struct {
	UserOpHash common.Hash
	TxHash     common.Hash
}

// Submitter sends a signed operation on chain
type Submitter interface {
	Submit(ctx context.Context, op *userop.UserOperation) (*Result, error)
}

// BundlerSubmitter uses eth_sendUserOperation and waits for the bundle
type BundlerSubmitter struct {
	rpc          RPCCaller
	entryPoint   common.Address
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewBundlerSubmitter creates a submitter over a bundler connection
func NewBundlerSubmitter(rpc RPCCaller, entryPoint common.Address, pollInterval, timeout time.Duration, logger *zap.Logger) *BundlerSubmitter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundlerSubmitter{
		rpc:          rpc,
		entryPoint:   entryPoint,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
	}
}

type userOpReceipt struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Receipt struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// Submit sends op and polls until the bundler reports the transaction hash
func (s *BundlerSubmitter) Submit(ctx context.Context, op *userop.UserOperation) (*Result, error) {
	var opHash common.Hash
	if err := s.rpc.CallContext(ctx, &opHash, "eth_sendUserOperation", op, s.entryPoint); err != nil {
		return nil, fmt.Errorf("failed to send user operation: %w", err)
	}
	s.logger.Info("user operation sent", zap.String("user_op_hash", opHash.Hex()))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var receipt *userOpReceipt
		if err := s.rpc.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", opHash); err != nil {
			s.logger.Warn("failed to get user operation receipt", zap.Error(err))
		} else if receipt != nil {
			if !receipt.Success {
				return &Result{UserOpHash: opHash, TxHash: receipt.Receipt.TransactionHash},
					fmt.Errorf("user operation reverted: %s", receipt.Reason)
			}
			return &Result{UserOpHash: opHash, TxHash: receipt.Receipt.TransactionHash}, nil
		}

		select {
		case <-ctx.Done():
			return &Result{UserOpHash: opHash}, fmt.Errorf("timed out waiting for user operation %s: %w", opHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// RelayBackend is the subset of ethclient the relayer sends through
type RelayBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Relayer calls EntryPoint.handleOps from its own EOA
type Relayer struct {
	client      RelayBackend
	privateKey  *ecdsa.PrivateKey
	from        common.Address
	entryPoint  common.Address
	beneficiary common.Address
	chainID     *big.Int
	logger      *zap.Logger
}

// NewRelayer creates a relayer. A zero beneficiary pays fees back to the relayer.
func NewRelayer(client RelayBackend, hexKey string, entryPoint, beneficiary common.Address, chainID *big.Int, logger *zap.Logger) (*Relayer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	if beneficiary == (common.Address{}) {
		beneficiary = from
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relayer{
		client:      client,
		privateKey:  privateKey,
		from:        from,
		entryPoint:  entryPoint,
		beneficiary: beneficiary,
		chainID:     new(big.Int).Set(chainID),
		logger:      logger,
	}, nil
}

// Address returns the relayer's EOA
func (r *Relayer) Address() common.Address {
	return r.from
}

// Submit sends handleOps([op], beneficiary) and returns once the transaction is broadcast
func (r *Relayer) Submit(ctx context.Context, op *userop.UserOperation) (*Result, error) {
	opHash, err := op.Hash(r.entryPoint, r.chainID)
	if err != nil {
		return nil, err
	}

	data, err := userop.PackHandleOps([]userop.UserOperation{*op}, r.beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to pack handleOps: %w", err)
	}

	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	// Fall back to the operation's own limits when estimation fails
	gasLimit := opGasLimit(op)
	estimated, err := r.client.EstimateGas(ctx, ethereum.CallMsg{From: r.from, To: &r.entryPoint, Data: data})
	if err == nil {
		gasLimit = estimated * 120 / 100 // Add 20% buffer
	} else {
		r.logger.Warn("gas estimation failed, using user operation limits", zap.Error(err))
	}

	tx := types.NewTransaction(nonce, r.entryPoint, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	r.logger.Info("handleOps sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("user_op_hash", opHash.Hex()))
	return &Result{UserOpHash: opHash, TxHash: signedTx.Hash()}, nil
}

func opGasLimit(op *userop.UserOperation) uint64 {
	total := new(big.Int)
	for _, v := range []*big.Int{op.CallGasLimit, op.VerificationGasLimit, op.PreVerificationGas} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total.Uint64() + 50_000
}

var (
	_ Submitter = (*BundlerSubmitter)(nil)
	_ Submitter = (*Relayer)(nil)
)
