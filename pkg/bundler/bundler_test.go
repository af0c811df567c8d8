package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	smtypes "smartswap/pkg/types"
	"smartswap/pkg/userop"
)

// fakeRPC replays canned JSON results per method
type fakeRPC struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string][][]interface{}
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{responses: map[string][]string{}, calls: map[string][][]interface{}{}}
}

func (f *fakeRPC) on(method string, results ...string) {
	f.responses[method] = append(f.responses[method], results...)
}

func (f *fakeRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method] = append(f.calls[method], args)

	queue := f.responses[method]
	if len(queue) == 0 {
		return errors.New("no response for " + method)
	}
	raw := queue[0]
	if len(queue) > 1 {
		f.responses[method] = queue[1:]
	}
	return json.Unmarshal([]byte(raw), result)
}

type fakeAccount struct {
	initCode []byte
}

func (a *fakeAccount) Address() common.Address {
	return common.HexToAddress("0xEc178789d353e383F2eEaBE5272880cd865C1D8A")
}
func (a *fakeAccount) Owner() common.Address      { return common.HexToAddress("0x01") }
func (a *fakeAccount) ChainID() *big.Int          { return big.NewInt(42161) }
func (a *fakeAccount) EntryPoint() common.Address { return userop.EntryPointV06 }
func (a *fakeAccount) InitCode(context.Context) ([]byte, error) {
	return a.initCode, nil
}
func (a *fakeAccount) EncodeExecuteBatch([]smtypes.BatchCall) ([]byte, error) { return nil, nil }
func (a *fakeAccount) SignUserOperation(context.Context, *userop.UserOperation) ([]byte, error) {
	return []byte{0x01}, nil
}
func (a *fakeAccount) DummySignature() []byte { return []byte{0xee} }

type fakeChain struct {
	lastCall ethereum.CallMsg
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCall = msg
	return common.LeftPadBytes(big.NewInt(4).Bytes(), 32), nil
}
func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(100), nil }
func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func TestPrepareUserOperationWithBundlerEstimate(t *testing.T) {
	rpc := newFakeRPC()
	rpc.on("eth_estimateUserOperationGas", `{"preVerificationGas":"0x10","verificationGasLimit":"0x20","callGasLimit":"0x30"}`)
	chain := &fakeChain{}

	p := NewPreparer(chain, NewRPCEstimator(rpc), zaptest.NewLogger(t))
	op, err := p.PrepareUserOperation(context.Background(), &fakeAccount{initCode: []byte{0xab}}, []byte{0xca, 0xfe})
	require.NoError(t, err)

	assert.Equal(t, userop.EntryPointV06, *chain.lastCall.To)
	assert.Equal(t, int64(4), op.Nonce.Int64())
	assert.Equal(t, []byte{0xab}, op.InitCode)
	assert.Equal(t, []byte{0xca, 0xfe}, op.CallData)
	assert.Equal(t, int64(101), op.MaxFeePerGas.Int64())
	assert.Equal(t, int64(1), op.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(0x10), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(0x20), op.VerificationGasLimit.Int64())
	assert.Equal(t, int64(0x30), op.CallGasLimit.Int64())
	assert.Nil(t, op.Signature)

	// estimation ran with the dummy signature
	args := rpc.calls["eth_estimateUserOperationGas"][0]
	estimated := args[0].(*userop.UserOperation)
	assert.Equal(t, []byte{0xee}, estimated.Signature)
	assert.Equal(t, userop.EntryPointV06, args[1])
}

func TestPrepareUserOperationPropagatesEstimateError(t *testing.T) {
	p := NewPreparer(&fakeChain{}, NewRPCEstimator(newFakeRPC()), nil)
	_, err := p.PrepareUserOperation(context.Background(), &fakeAccount{}, []byte{0x01})
	assert.Error(t, err)
}

func TestStaticEstimatorAddsDeployGas(t *testing.T) {
	e := DefaultStaticEstimator

	plain, err := e.EstimateUserOperationGas(context.Background(), &userop.UserOperation{}, common.Address{})
	require.NoError(t, err)
	deploy, err := e.EstimateUserOperationGas(context.Background(), &userop.UserOperation{InitCode: []byte{1}}, common.Address{})
	require.NoError(t, err)

	diff := new(big.Int).Sub(deploy.VerificationGasLimit, plain.VerificationGasLimit)
	assert.Equal(t, int64(e.DeployGasLimit), diff.Int64())
}

func TestBundlerSubmitterPollsForReceipt(t *testing.T) {
	opHash := "0x" + common.Bytes2Hex(common.LeftPadBytes([]byte{0x0a}, 32))
	txHash := "0x" + common.Bytes2Hex(common.LeftPadBytes([]byte{0x0b}, 32))

	rpc := newFakeRPC()
	rpc.on("eth_sendUserOperation", `"`+opHash+`"`)
	rpc.on("eth_getUserOperationReceipt", `null`, `null`, `{"success":true,"receipt":{"transactionHash":"`+txHash+`"}}`)

	s := NewBundlerSubmitter(rpc, userop.EntryPointV06, time.Millisecond, time.Second, zaptest.NewLogger(t))
	res, err := s.Submit(context.Background(), &userop.UserOperation{})
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash(opHash), res.UserOpHash)
	assert.Equal(t, common.HexToHash(txHash), res.TxHash)
	assert.Len(t, rpc.calls["eth_getUserOperationReceipt"], 3)
}

func TestBundlerSubmitterReportsRevertAndTimeout(t *testing.T) {
	rpc := newFakeRPC()
	rpc.on("eth_sendUserOperation", `"0x0000000000000000000000000000000000000000000000000000000000000001"`)
	rpc.on("eth_getUserOperationReceipt", `{"success":false,"reason":"AA23 reverted","receipt":{"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000002"}}`)

	s := NewBundlerSubmitter(rpc, userop.EntryPointV06, time.Millisecond, time.Second, nil)
	_, err := s.Submit(context.Background(), &userop.UserOperation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AA23")

	rpc = newFakeRPC()
	rpc.on("eth_sendUserOperation", `"0x0000000000000000000000000000000000000000000000000000000000000001"`)
	rpc.on("eth_getUserOperationReceipt", `null`)
	s = NewBundlerSubmitter(rpc, userop.EntryPointV06, time.Millisecond, 20*time.Millisecond, nil)
	res, err := s.Submit(context.Background(), &userop.UserOperation{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, common.HexToHash("0x01"), res.UserOpHash)
}

type fakeRelayBackend struct {
	sent     *types.Transaction
	estimate uint64
	estErr   error
}

func (f *fakeRelayBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 9, nil
}
func (f *fakeRelayBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(10), nil
}
func (f *fakeRelayBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estErr
}
func (f *fakeRelayBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = tx
	return nil
}

func TestRelayerSendsHandleOps(t *testing.T) {
	backend := &fakeRelayBackend{estimate: 100_000}
	beneficiary := common.HexToAddress("0x11e479dc86dda6a435c504b8ff17bcdba2a8dfe3")
	r, err := NewRelayer(backend, "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		userop.EntryPointV06, beneficiary, big.NewInt(42161), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), r.Address())

	op := &userop.UserOperation{Sender: common.HexToAddress("0x02"), Nonce: big.NewInt(1), Signature: []byte{1}}
	res, err := r.Submit(context.Background(), op)
	require.NoError(t, err)

	require.NotNil(t, backend.sent)
	assert.Equal(t, userop.EntryPointV06, *backend.sent.To())
	assert.Equal(t, uint64(9), backend.sent.Nonce())
	assert.Equal(t, uint64(120_000), backend.sent.Gas())
	assert.Equal(t, userop.EntryPointABI.Methods["handleOps"].ID, backend.sent.Data()[:4])
	assert.Equal(t, backend.sent.Hash(), res.TxHash)

	wantHash, err := op.Hash(userop.EntryPointV06, big.NewInt(42161))
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.UserOpHash)
}

func TestRelayerFallsBackToOperationGas(t *testing.T) {
	backend := &fakeRelayBackend{estErr: errors.New("execution reverted")}
	r, err := NewRelayer(backend, "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		userop.EntryPointV06, common.Address{}, big.NewInt(42161), nil)
	require.NoError(t, err)

	_, err = r.Submit(context.Background(), &userop.UserOperation{
		CallGasLimit:         big.NewInt(100),
		VerificationGasLimit: big.NewInt(200),
		PreVerificationGas:   big.NewInt(300),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50_600), backend.sent.Gas())

	_, err = NewRelayer(backend, "bad", userop.EntryPointV06, common.Address{}, big.NewInt(1), nil)
	assert.Error(t, err)
}
