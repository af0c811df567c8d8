package account

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"smartswap/pkg/client"
	"smartswap/pkg/signer"
	"smartswap/pkg/types"
)

// Provisioner turns a resolved signer into a ready smart account
type Provisioner interface {
	Provision(ctx context.Context, s signer.Signer, sess *types.Session) (*CoinbaseAccount, error)
}

// Options are the on-chain addresses shared by both provisioners
type Options struct {
	Factory    common.Address
	EntryPoint common.Address
	ChainID    *big.Int
	// Salt is the factory nonce; nil means 0
	Salt *big.Int
}

func (o Options) salt() *big.Int {
	if o.Salt == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(o.Salt)
}

// FactoryProvisioner derives the account address from the factory
type FactoryProvisioner struct {
	chain  ChainReader
	opts   Options
	logger *zap.Logger
}

// NewFactoryProvisioner creates a provisioner that reads the factory on chain
func NewFactoryProvisioner(chain ChainReader, opts Options, logger *zap.Logger) *FactoryProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactoryProvisioner{chain: chain, opts: opts, logger: logger}
}

// Provision asks the factory for the counterfactual address of s's account
func (p *FactoryProvisioner) Provision(ctx context.Context, s signer.Signer, _ *types.Session) (*CoinbaseAccount, error) {
	if s == nil {
		return nil, ErrAccountUnavailable.Wrap(fmt.Errorf("no signer"))
	}

	addr, err := p.accountAddress(ctx, s.Address())
	if err != nil {
		p.logger.Error("failed to derive smart account", zap.String("owner", s.Address().Hex()), zap.Error(err))
		return nil, ErrAccountUnavailable.Wrap(err)
	}

	p.logger.Debug("smart account derived", zap.String("owner", s.Address().Hex()), zap.String("account", addr.Hex()))
	return &CoinbaseAccount{
		address:    addr,
		signer:     s,
		salt:       p.opts.salt(),
		factory:    p.opts.Factory,
		entryPoint: p.opts.EntryPoint,
		chainID:    new(big.Int).Set(p.opts.ChainID),
		chain:      p.chain,
	}, nil
}

func (p *FactoryProvisioner) accountAddress(ctx context.Context, owner common.Address) (common.Address, error) {
	encoded, err := EncodeOwner(owner)
	if err != nil {
		return common.Address{}, err
	}
	data, err := factoryABI.Pack("getAddress", [][]byte{encoded}, p.opts.salt())
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getAddress: %w", err)
	}

	factory := p.opts.Factory
	result, err := p.chain.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call getAddress: %w", err)
	}

	out, err := factoryABI.Unpack("getAddress", result)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getAddress: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory returned no address")
	}
	return addr, nil
}

// CustodialProvisioner asks the wallet backend to set up the user's account
type CustodialProvisioner struct {
	baseURL string
	http    *http.Client
	chain   ChainReader
	opts    Options
	logger  *zap.Logger
}

type setupRequest struct {
	ChainID int64          `json:"chainId"`
	Owner   common.Address `json:"owner"`
}

type setupResponse struct {
	Address    common.Address `json:"address"`
	OwnerIndex uint8          `json:"ownerIndex"`
}

// NewCustodialProvisioner creates a provisioner backed by the wallet service
func NewCustodialProvisioner(walletBaseURL string, hc *http.Client, chain ChainReader, opts Options, logger *zap.Logger) *CustodialProvisioner {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustodialProvisioner{
		baseURL: strings.TrimRight(walletBaseURL, "/"),
		http:    hc,
		chain:   chain,
		opts:    opts,
		logger:  logger,
	}
}

// Provision creates the account if absent and returns it. The id token
// identifies the user; the access token authorizes the call.
func (p *CustodialProvisioner) Provision(ctx context.Context, s signer.Signer, sess *types.Session) (*CoinbaseAccount, error) {
	if s == nil {
		return nil, ErrAccountUnavailable.Wrap(fmt.Errorf("no signer"))
	}
	if sess == nil || sess.IDToken == "" || sess.AccessToken == "" {
		return nil, ErrAccountUnavailable.Wrap(signer.ErrSessionRequired)
	}

	header := http.Header{}
	header.Set("Authorization", sess.AccessToken)
	header.Set("x-id-token", sess.IDToken)

	var resp client.Envelope[setupResponse]
	err := client.DoJSON(ctx, p.http, http.MethodPost, p.baseURL+"/smart-account/setup", header, setupRequest{
		ChainID: p.opts.ChainID.Int64(),
		Owner:   s.Address(),
	}, &resp)
	if err != nil {
		p.logger.Error("smart account setup failed", zap.String("owner", s.Address().Hex()), zap.Error(err))
		return nil, ErrAccountUnavailable.Wrap(err)
	}
	if resp.Data.Address == (common.Address{}) {
		return nil, ErrAccountUnavailable.Wrap(fmt.Errorf("wallet backend returned no account"))
	}

	p.logger.Debug("smart account ready", zap.String("account", resp.Data.Address.Hex()))
	return &CoinbaseAccount{
		address:    resp.Data.Address,
		signer:     s,
		ownerIndex: resp.Data.OwnerIndex,
		salt:       p.opts.salt(),
		factory:    p.opts.Factory,
		entryPoint: p.opts.EntryPoint,
		chainID:    new(big.Int).Set(p.opts.ChainID),
		chain:      p.chain,
	}, nil
}

var (
	_ Provisioner = (*FactoryProvisioner)(nil)
	_ Provisioner = (*CustodialProvisioner)(nil)
)
