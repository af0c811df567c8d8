package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxReader looks transactions up by hash
type TxReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxStatus is the lifecycle state of a submitted transaction
type TxStatus string

const (
	TxPending TxStatus = "PENDING"
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// TxInfo summarizes a transaction and its receipt
type TxInfo struct {
	Hash        string   `json:"hash"`
	Status      TxStatus `json:"status"`
	To          string   `json:"to"`
	Value       string   `json:"value"`
	Nonce       uint64   `json:"nonce"`
	GasLimit    uint64   `json:"gas_limit"`
	BlockNumber uint64   `json:"block_number,omitempty"`
	GasUsed     uint64   `json:"gas_used,omitempty"`
}

// Done reports whether the transaction reached a final state
func (i *TxInfo) Done() bool {
	return i.Status != TxPending
}

// GetTransactionInfo retrieves information about a transaction
func GetTransactionInfo(ctx context.Context, reader TxReader, txHash string) (*TxInfo, error) {
	hash := common.HexToHash(txHash)

	tx, isPending, err := reader.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	info := &TxInfo{
		Hash:     tx.Hash().Hex(),
		Status:   TxPending,
		Value:    tx.Value().String(),
		Nonce:    tx.Nonce(),
		GasLimit: tx.Gas(),
	}
	if tx.To() != nil {
		info.To = tx.To().Hex()
	}
	if isPending {
		return info, nil
	}

	receipt, err := reader.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return info, nil
		}
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	info.BlockNumber = receipt.BlockNumber.Uint64()
	info.GasUsed = receipt.GasUsed
	if receipt.Status == types.ReceiptStatusSuccessful {
		info.Status = TxSuccess
	} else {
		info.Status = TxFailed
	}
	return info, nil
}
