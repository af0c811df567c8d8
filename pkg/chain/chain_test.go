package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"smartswap/pkg/tokens"
	smtypes "smartswap/pkg/types"
)

// fakeMulticall answers aggregate3 with the configured per-call results
type fakeMulticall struct {
	calls    int
	lastTo   common.Address
	lastReqs []call3
	answer   func(c call3) result
	err      error
}

func (f *fakeMulticall) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	f.lastTo = *msg.To
	if f.err != nil {
		return nil, f.err
	}

	args, err := multicallABI.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	reqs := *abi.ConvertType(args[0], new([]call3)).(*[]call3)
	f.lastReqs = reqs

	out := make([]result, len(reqs))
	for i, c := range reqs {
		out[i] = f.answer(c)
	}
	return multicallABI.Methods["aggregate3"].Outputs.Pack(out)
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestBalancesUsesOneMulticall(t *testing.T) {
	list := tokens.Fallback(tokens.ArbitrumOne)
	usdc := list[1].Address
	link := list[4].Address
	owner := common.HexToAddress("0xEc178789d353e383F2eEaBE5272880cd865C1D8A")

	fake := &fakeMulticall{answer: func(c call3) result {
		switch c.Target {
		case Multicall3:
			return result{Success: true, ReturnData: word(1_500_000_000_000_000_000)}
		case usdc:
			return result{Success: true, ReturnData: word(2_500_000)}
		case link:
			return result{Success: false}
		default:
			return result{Success: true, ReturnData: word(0)}
		}
	}}

	reader := NewBalanceReader(fake, common.Address{}, zaptest.NewLogger(t))
	balances, err := reader.Balances(context.Background(), owner, list)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, Multicall3, fake.lastTo)
	require.Len(t, fake.lastReqs, len(list))
	for _, r := range fake.lastReqs {
		assert.True(t, r.AllowFailure)
	}
	assert.Equal(t, multicallABI.Methods["getEthBalance"].ID, fake.lastReqs[0].CallData[:4])
	assert.Equal(t, erc20ABI.Methods["balanceOf"].ID, fake.lastReqs[1].CallData[:4])

	assert.Equal(t, "1.5", balances[tokens.NativeAddress.Hex()])
	assert.Equal(t, "2.5", balances[usdc.Hex()])
	assert.Equal(t, "0", balances[link.Hex()])
	assert.Len(t, balances, len(list))
}

func TestBalancesKeysAreChecksummed(t *testing.T) {
	list := []smtypes.Token{{Address: common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831"), Decimals: 6}}
	fake := &fakeMulticall{answer: func(call3) result { return result{Success: true, ReturnData: word(1)} }}

	balances, err := NewBalanceReader(fake, common.Address{}, nil).Balances(context.Background(), common.Address{}, list)
	require.NoError(t, err)

	_, ok := balances["0xaf88d065e77c8cC2239327C5EDb3A432268e5831"]
	assert.True(t, ok)
}

func TestBalancesEmptyListMakesNoCall(t *testing.T) {
	fake := &fakeMulticall{}
	balances, err := NewBalanceReader(fake, common.Address{}, nil).Balances(context.Background(), common.Address{}, nil)

	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.Zero(t, fake.calls)
}

func TestBalancesReturnsFreshMapAndPropagatesErrors(t *testing.T) {
	list := tokens.Fallback(tokens.ArbitrumOne)[:1]
	fake := &fakeMulticall{answer: func(call3) result { return result{Success: true, ReturnData: word(1)} }}
	reader := NewBalanceReader(fake, common.Address{}, nil)

	first, err := reader.Balances(context.Background(), common.Address{}, list)
	require.NoError(t, err)
	first["mutated"] = "1"

	second, err := reader.Balances(context.Background(), common.Address{}, list)
	require.NoError(t, err)
	assert.NotContains(t, second, "mutated")

	fake.err = errors.New("rpc down")
	_, err = reader.Balances(context.Background(), common.Address{}, list)
	assert.Error(t, err)
}

func TestPackApprove(t *testing.T) {
	spender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data, err := PackApprove(spender, big.NewInt(1_000_000))
	require.NoError(t, err)

	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, spender, args[0])
	assert.Equal(t, int64(1_000_000), args[1].(*big.Int).Int64())
}

type fakeTxReader struct {
	tx      *types.Transaction
	pending bool
	receipt *types.Receipt
	err     error
}

func (f *fakeTxReader) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return f.tx, f.pending, nil
}

func (f *fakeTxReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func TestGetTransactionInfo(t *testing.T) {
	to := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	tx := types.NewTransaction(3, to, big.NewInt(0), 500_000, big.NewInt(1), nil)

	info, err := GetTransactionInfo(context.Background(), &fakeTxReader{tx: tx, pending: true}, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, TxPending, info.Status)
	assert.False(t, info.Done())
	assert.Equal(t, to.Hex(), info.To)

	info, err = GetTransactionInfo(context.Background(), &fakeTxReader{tx: tx, err: ethereum.NotFound}, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, TxPending, info.Status)

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100), GasUsed: 21_000}
	info, err = GetTransactionInfo(context.Background(), &fakeTxReader{tx: tx, receipt: receipt}, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, TxSuccess, info.Status)
	assert.Equal(t, uint64(100), info.BlockNumber)
	assert.True(t, info.Done())

	receipt.Status = types.ReceiptStatusFailed
	info, err = GetTransactionInfo(context.Background(), &fakeTxReader{tx: tx, receipt: receipt}, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, TxFailed, info.Status)
}
