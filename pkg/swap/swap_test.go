package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"smartswap/pkg/account"
	"smartswap/pkg/apperr"
	"smartswap/pkg/bundler"
	"smartswap/pkg/chain"
	"smartswap/pkg/client"
	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
	"smartswap/pkg/userop"
)

var (
	usdcAddr   = common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
	routerAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	acctAddr   = common.HexToAddress("0xEc178789d353e383F2eEaBE5272880cd865C1D8A")
)

type fakeAccount struct {
	batches [][]types.BatchCall
	signed  int
}

func (f *fakeAccount) Address() common.Address { return acctAddr }
func (f *fakeAccount) Owner() common.Address { return common.HexToAddress("0x01") }
func (f *fakeAccount) ChainID() *big.Int { return big.NewInt(42161) }
func (f *fakeAccount) EntryPoint() common.Address { return userop.EntryPointV06 }
func (f *fakeAccount) InitCode(context.Context) ([]byte, error) { return nil, nil }
func (f *fakeAccount) DummySignature() []byte { return []byte{0xff} }

func (f *fakeAccount) EncodeExecuteBatch(calls []types.BatchCall) ([]byte, error) {
	f.batches = append(f.batches, calls)
	return account.EncodeExecuteBatch(calls)
}

func (f *fakeAccount) SignUserOperation(context.Context, *userop.UserOperation) ([]byte, error) {
	f.signed++
	return []byte{0x01, 0x02}, nil
}

type fakeBuilder struct {
	requests []client.BuildQuoteRequest
	err      error
}

func (f *fakeBuilder) BuildQuote(_ context.Context, req client.BuildQuoteRequest) (*types.BuiltSwap, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &types.BuiltSwap{
		Target:   routerAddr,
		Value:    types.NewBigInt(big.NewInt(7)),
		CallData: []byte{0xde, 0xad},
	}, nil
}

type fakePreparer struct {
	calls int
}

func (f *fakePreparer) PrepareUserOperation(_ context.Context, acct account.SmartAccount, callData []byte) (*userop.UserOperation, error) {
	f.calls++
	return &userop.UserOperation{
		Sender:               acct.Address(),
		Nonce:                big.NewInt(3),
		CallData:             callData,
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	}, nil
}

type fakeSubmitter struct {
	ops     []*userop.UserOperation
	err     error
	partial *bundler.Result
}

func (f *fakeSubmitter) Submit(_ context.Context, op *userop.UserOperation) (*bundler.Result, error) {
	f.ops = append(f.ops, op)
	if f.err != nil {
		return f.partial, f.err
	}
	return &bundler.Result{
		UserOpHash: common.HexToHash("0xaa"),
		TxHash:     common.HexToHash("0xbb"),
	}, nil
}

func testQuote() types.Quote {
	return types.Quote{
		DexType:   "UNISWAP_V3",
		QuoteRaw:  []byte(`{"route":1}`),
		AmountIn:  types.NewBigInt(big.NewInt(1_000_000)),
		AmountOut: types.NewBigInt(big.NewInt(2_000_000)),
	}
}

func newAssembler(t *testing.T, b *fakeBuilder, p *fakePreparer, s bundler.Submitter) *Assembler {
	a := NewAssembler(b, p, s, 0, zaptest.NewLogger(t))
	a.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return a
}

func TestSwapERC20ApprovesFirst(t *testing.T) {
	b, p, s := &fakeBuilder{}, &fakePreparer{}, &fakeSubmitter{}
	acct := &fakeAccount{}
	a := newAssembler(t, b, p, s)

	res, err := a.Swap(context.Background(), Params{
		Account:     acct,
		TokenIn:     usdcAddr,
		Quotes:      []types.Quote{testQuote()},
		SlippageBps: 50,
	})
	require.NoError(t, err)

	require.Len(t, b.requests, 1)
	req := b.requests[0]
	assert.Equal(t, "42161", req.ChainID)
	assert.Equal(t, int64(1_700_000_300), req.Deadline)
	assert.Equal(t, "UNISWAP_V3", req.DexType)
	assert.Equal(t, acctAddr, req.Sender)
	assert.Equal(t, acctAddr, req.Recipient)
	assert.Equal(t, int64(50), req.SlippageTolerance)
	assert.JSONEq(t, `{"route":1}`, string(req.QuoteRaw))

	require.Len(t, acct.batches, 1)
	calls := acct.batches[0]
	require.Len(t, calls, 2)

	approve, err := chain.PackApprove(routerAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, usdcAddr, calls[0].Target)
	assert.Equal(t, approve, calls[0].Data)
	assert.Equal(t, 0, calls[0].Value.Sign())

	assert.Equal(t, routerAddr, calls[1].Target)
	assert.Equal(t, int64(7), calls[1].Value.Int64())
	assert.Equal(t, []byte{0xde, 0xad}, calls[1].Data)

	require.Len(t, s.ops, 1)
	assert.Equal(t, []byte{0x01, 0x02}, s.ops[0].Signature)
	assert.Equal(t, 1, acct.signed)

	assert.Equal(t, common.HexToHash("0xbb"), res.TxHash)
	assert.Equal(t, common.HexToHash("0xaa"), res.UserOpHash)
	assert.Equal(t, "1990000", res.MinAmountOut.String())
}

func TestSwapNativeHasNoApprove(t *testing.T) {
	for _, native := range []common.Address{tokens.NativeAddress, {}} {
		acct := &fakeAccount{}
		a := newAssembler(t, &fakeBuilder{}, &fakePreparer{}, &fakeSubmitter{})

		_, err := a.Swap(context.Background(), Params{
			Account: acct,
			TokenIn: native,
			Quotes:  []types.Quote{testQuote()},
		})
		require.NoError(t, err)
		require.Len(t, acct.batches, 1)
		require.Len(t, acct.batches[0], 1)
		assert.Equal(t, routerAddr, acct.batches[0][0].Target)
	}
}

func TestSwapSelectedIndex(t *testing.T) {
	b := &fakeBuilder{}
	a := newAssembler(t, b, &fakePreparer{}, &fakeSubmitter{})
	second := testQuote()
	second.DexType = "SUSHI"

	res, err := a.Swap(context.Background(), Params{
		Account:  &fakeAccount{},
		TokenIn:  usdcAddr,
		Quotes:   []types.Quote{testQuote(), second},
		Selected: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "SUSHI", b.requests[0].DexType)
	assert.Equal(t, "SUSHI", res.Quote.DexType)
}

func TestSwapPreconditionsBeforeIO(t *testing.T) {
	quotes := []types.Quote{testQuote()}

	tests := []struct {
		name      string
		submitter bundler.Submitter
		params    Params
		want      error
	}{
		{
			name:   "no submitter",
			params: Params{Account: &fakeAccount{}, Quotes: quotes},
			want:   ErrSubmitterNotConnected,
		},
		{
			name:      "no account",
			submitter: &fakeSubmitter{},
			params:    Params{Quotes: quotes},
			want:      ErrAccountNotFound,
		},
		{
			name:      "no quotes",
			submitter: &fakeSubmitter{},
			params:    Params{Account: &fakeAccount{}},
			want:      ErrQuotesNotFound,
		},
		{
			name:      "index out of range",
			submitter: &fakeSubmitter{},
			params:    Params{Account: &fakeAccount{}, Quotes: quotes, Selected: 1},
			want:      ErrQuoteNotFound,
		},
		{
			name:   "submitter checked first",
			params: Params{},
			want:   ErrSubmitterNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := &fakeBuilder{}, &fakePreparer{}
			a := newAssembler(t, b, p, tt.submitter)

			_, err := a.Swap(context.Background(), tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
			assert.Empty(t, b.requests)
			assert.Zero(t, p.calls)
		})
	}
}

func TestSwapNothingSubmittedOnBuildFailure(t *testing.T) {
	b := &fakeBuilder{err: errors.New("503")}
	p, s := &fakePreparer{}, &fakeSubmitter{}
	a := newAssembler(t, b, p, s)

	_, err := a.Swap(context.Background(), Params{Account: &fakeAccount{}, TokenIn: usdcAddr, Quotes: []types.Quote{testQuote()}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
	assert.Zero(t, p.calls)
	assert.Empty(t, s.ops)
}

func TestBuildCallsRequiresRouter(t *testing.T) {
	_, err := BuildCalls(usdcAddr, big.NewInt(1), nil)
	assert.Error(t, err)
}

func TestSwapKeepsHashWhenConfirmationTimesOut(t *testing.T) {
	s := &fakeSubmitter{
		err:     fmt.Errorf("timed out waiting for user operation: %w", context.DeadlineExceeded),
		partial: &bundler.Result{UserOpHash: common.HexToHash("0xaa")},
	}
	a := newAssembler(t, &fakeBuilder{}, &fakePreparer{}, s)

	res, err := a.Swap(context.Background(), Params{Account: &fakeAccount{}, TokenIn: usdcAddr, Quotes: []types.Quote{testQuote()}, SlippageBps: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmitUnconfirmed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, common.HexToHash("0xaa"), res.UserOpHash)
	assert.Equal(t, common.Hash{}, res.TxHash)
	assert.Equal(t, "UNISWAP_V3", res.Quote.DexType)
	assert.Equal(t, "1990000", res.MinAmountOut.String())
}

func TestSwapRevertKeepsBothHashes(t *testing.T) {
	s := &fakeSubmitter{
		err:     errors.New("user operation reverted: AA23"),
		partial: &bundler.Result{UserOpHash: common.HexToHash("0xaa"), TxHash: common.HexToHash("0xbb")},
	}
	a := newAssembler(t, &fakeBuilder{}, &fakePreparer{}, s)

	res, err := a.Swap(context.Background(), Params{Account: &fakeAccount{}, TokenIn: usdcAddr, Quotes: []types.Quote{testQuote()}})
	assert.True(t, errors.Is(err, ErrSubmitUnconfirmed))
	require.NotNil(t, res)
	assert.Equal(t, common.HexToHash("0xbb"), res.TxHash)
}

func TestSwapSendFailureReturnsNoResult(t *testing.T) {
	s := &fakeSubmitter{err: errors.New("connection refused")}
	a := newAssembler(t, &fakeBuilder{}, &fakePreparer{}, s)

	res, err := a.Swap(context.Background(), Params{Account: &fakeAccount{}, TokenIn: usdcAddr, Quotes: []types.Quote{testQuote()}})
	assert.Nil(t, res)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
	assert.False(t, errors.Is(err, ErrSubmitUnconfirmed))
}

func TestCheckRoute(t *testing.T) {
	quotes := []types.Quote{testQuote(), testQuote()}

	assert.ErrorIs(t, CheckRoute(nil, 0), ErrQuotesNotFound)
	assert.ErrorIs(t, CheckRoute(quotes, 2), ErrQuoteNotFound)
	assert.ErrorIs(t, CheckRoute(quotes, -1), ErrQuoteNotFound)
	assert.NoError(t, CheckRoute(quotes, 1))
}
