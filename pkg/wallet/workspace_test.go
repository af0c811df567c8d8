package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"smartswap/pkg/account"
	"smartswap/pkg/signer"
	"smartswap/pkg/types"
	"smartswap/pkg/userop"
)

const (
	keyA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	keyB = "0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

// fakeFactory answers getAddress with an address derived from the owner
type fakeFactory struct {
	calls int
	err   error
}

func (f *fakeFactory) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	bytesTy, _ := abi.NewType("bytes[]", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	args, err := abi.Arguments{{Type: bytesTy}, {Type: uintTy}}.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	owner := args[0].([][]byte)[0]
	// account = owner with the first byte flipped
	addr := common.BytesToAddress(owner[12:])
	addr[0] ^= 0xff
	return common.LeftPadBytes(addr.Bytes(), 32), nil
}

func (f *fakeFactory) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func newWorkspace(t *testing.T, chain *fakeFactory) *Workspace {
	opts := account.Options{
		Factory:    account.CoinbaseFactoryV1,
		EntryPoint: userop.EntryPointV06,
		ChainID:    big.NewInt(42161),
	}
	logger := zaptest.NewLogger(t)
	return NewWorkspace(signer.NewResolver(nil, logger), map[signer.Strategy]account.Provisioner{
		signer.StrategyPrivateKey: account.NewFactoryProvisioner(chain, opts, logger),
	}, logger)
}

func TestRefreshDerivesOnce(t *testing.T) {
	chain := &fakeFactory{}
	w := newWorkspace(t, chain)
	in := Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA}

	require.NoError(t, w.Refresh(context.Background(), in))
	require.NotNil(t, w.Signer())
	require.NotNil(t, w.Account())
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), w.Signer().Address())
	assert.Equal(t, w.Signer().Address(), w.Account().Owner())

	require.NoError(t, w.Refresh(context.Background(), in))
	assert.Equal(t, 1, chain.calls, "unchanged inputs are a no-op")
}

func TestRefreshReprovisionsOnKeyChange(t *testing.T) {
	chain := &fakeFactory{}
	w := newWorkspace(t, chain)

	require.NoError(t, w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA}))
	first := w.Account().Address()

	require.NoError(t, w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyB}))
	assert.Equal(t, 2, chain.calls)
	assert.NotEqual(t, first, w.Account().Address())
	assert.Equal(t, w.Signer().Address(), w.Account().Owner())
}

func TestRefreshFailureClearsDerived(t *testing.T) {
	chain := &fakeFactory{}
	w := newWorkspace(t, chain)
	require.NoError(t, w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA}))

	err := w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: "zz"})
	assert.True(t, errors.Is(err, signer.ErrInvalidPrivateKey))
	assert.Nil(t, w.Signer())
	assert.Nil(t, w.Account())

	chain.err = errors.New("rpc down")
	err = w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA})
	assert.True(t, errors.Is(err, account.ErrAccountUnavailable))
	assert.Nil(t, w.Signer())
	assert.Nil(t, w.Account())

	// a failed refresh is retried even with the same inputs
	chain.err = nil
	require.NoError(t, w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA}))
	assert.NotNil(t, w.Account())
}

func TestRefreshCustodialRequiresLiveSession(t *testing.T) {
	w := newWorkspace(t, &fakeFactory{})
	w.now = func() time.Time { return time.Unix(2_000, 0) }

	err := w.Refresh(context.Background(), Inputs{
		Strategy: signer.StrategyCustodial,
		Session:  &types.Session{AccessToken: "a", IDToken: "i", AccessTokenExpiredAt: 1_000},
	})
	assert.ErrorIs(t, err, ErrSessionExpired)

	err = w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyCustodial})
	assert.ErrorIs(t, err, signer.ErrSessionRequired)
	assert.Nil(t, w.Account())
}

func TestClear(t *testing.T) {
	w := newWorkspace(t, &fakeFactory{})
	require.NoError(t, w.Refresh(context.Background(), Inputs{Strategy: signer.StrategyPrivateKey, PrivateKey: keyA}))
	w.Clear()
	assert.Nil(t, w.Signer())
	assert.Nil(t, w.Account())
}
