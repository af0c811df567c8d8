package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
	"smartswap/pkg/units"
)

// ContractCaller executes read-only calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type result struct {
	Success    bool
	ReturnData []byte
}

// BalanceReader reads token balances through Multicall3
type BalanceReader struct {
	caller    ContractCaller
	multicall common.Address
	logger    *zap.Logger
}

// NewBalanceReader creates a reader. A zero multicall address uses Multicall3.
func NewBalanceReader(caller ContractCaller, multicall common.Address, logger *zap.Logger) *BalanceReader {
	if multicall == (common.Address{}) {
		multicall = Multicall3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceReader{caller: caller, multicall: multicall, logger: logger}
}

// Balances returns owner's balance of every token keyed by checksummed token
// address, formatted with the token's decimals. All tokens are read in one
// eth_call; a failed sub-call reports "0". Each call returns a new map.
func (r *BalanceReader) Balances(ctx context.Context, owner common.Address, list []types.Token) (map[string]string, error) {
	balances := make(map[string]string, len(list))
	if len(list) == 0 {
		return balances, nil
	}

	calls := make([]call3, len(list))
	for i, t := range list {
		var (
			data []byte
			err  error
		)
		target := t.Address
		if tokens.IsNative(t.Address) {
			target = r.multicall
			data, err = multicallABI.Pack("getEthBalance", owner)
		} else {
			data, err = PackBalanceOf(owner)
		}
		if err != nil {
			return nil, err
		}
		calls[i] = call3{Target: target, AllowFailure: true, CallData: data}
	}

	input, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3: %w", err)
	}

	to := r.multicall
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call multicall: %w", err)
	}

	unpacked, err := multicallABI.Unpack("aggregate3", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3: %w", err)
	}
	results := *abi.ConvertType(unpacked[0], new([]result)).(*[]result)
	if len(results) != len(list) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(list))
	}

	for i, t := range list {
		value := new(big.Int)
		if results[i].Success && len(results[i].ReturnData) >= 32 {
			value.SetBytes(results[i].ReturnData[:32])
		} else {
			r.logger.Debug("balance call failed", zap.String("token", t.Symbol), zap.String("address", t.Address.Hex()))
		}
		balances[t.Address.Hex()] = units.FormatUnits(value, t.Decimals)
	}
	return balances, nil
}
