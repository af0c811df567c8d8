// Package wallet derives the signer and smart account from the current
// session and key material, and re-derives them only when those inputs change.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"smartswap/pkg/account"
	"smartswap/pkg/apperr"
	"smartswap/pkg/signer"
	"smartswap/pkg/types"
)

var ErrSessionExpired = apperr.Validation("SESSION_EXPIRED", "Session expired, please log in again")

// SignerResolver produces a signer for a spec
type SignerResolver interface {
	Resolve(ctx context.Context, spec signer.Spec) (signer.Signer, error)
}

// Inputs are the values the derived signer and account depend on
type Inputs struct {
	Strategy   signer.Strategy
	Session    *types.Session
	PrivateKey string
}

func (in Inputs) fingerprint() common.Hash {
	var token, idToken string
	if in.Session != nil {
		token, idToken = in.Session.AccessToken, in.Session.IDToken
	}
	return crypto.Keccak256Hash(
		[]byte(in.Strategy), []byte{0},
		[]byte(token), []byte{0},
		[]byte(idToken), []byte{0},
		[]byte(in.PrivateKey),
	)
}

// Workspace holds the signer and smart account derived from Inputs
type Workspace struct {
	resolver     SignerResolver
	provisioners map[signer.Strategy]account.Provisioner
	now          func() time.Time
	logger       *zap.Logger

	mu          sync.RWMutex
	fingerprint common.Hash
	ready       bool
	signer      signer.Signer
	account     *account.CoinbaseAccount
}

// NewWorkspace creates a workspace. provisioners maps each strategy to the
// provisioner that sets up its account.
func NewWorkspace(resolver SignerResolver, provisioners map[signer.Strategy]account.Provisioner, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		resolver:     resolver,
		provisioners: provisioners,
		now:          time.Now,
		logger:       logger,
	}
}

// Refresh re-derives signer and account when in differs from the last
// successful call. On failure both derived values are cleared.
func (w *Workspace) Refresh(ctx context.Context, in Inputs) error {
	fp := in.fingerprint()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ready && fp == w.fingerprint {
		return nil
	}

	prevOwner := common.Address{}
	if w.signer != nil {
		prevOwner = w.signer.Address()
	}
	w.clear()

	if in.Strategy == signer.StrategyCustodial && in.Session != nil && in.Session.Expired(w.now()) {
		return ErrSessionExpired
	}

	s, err := w.resolver.Resolve(ctx, signer.Spec{
		Strategy:   in.Strategy,
		Session:    in.Session,
		PrivateKey: in.PrivateKey,
	})
	if err != nil {
		return err
	}

	p, ok := w.provisioners[in.Strategy]
	if !ok {
		return account.ErrAccountUnavailable.Wrap(signer.ErrUnknownStrategy)
	}
	acct, err := p.Provision(ctx, s, in.Session)
	if err != nil {
		return err
	}

	if prevOwner != (common.Address{}) && prevOwner != s.Address() {
		w.logger.Info("signer changed, smart account re-provisioned",
			zap.String("previous_owner", prevOwner.Hex()),
			zap.String("owner", s.Address().Hex()))
	}

	w.signer = s
	w.account = acct
	w.fingerprint = fp
	w.ready = true
	w.logger.Debug("workspace ready",
		zap.String("strategy", string(in.Strategy)),
		zap.String("owner", s.Address().Hex()),
		zap.String("account", acct.Address().Hex()))
	return nil
}

// Clear drops the derived signer and account
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clear()
}

func (w *Workspace) clear() {
	w.signer = nil
	w.account = nil
	w.ready = false
	w.fingerprint = common.Hash{}
}

// Signer returns the derived signer, or nil
func (w *Workspace) Signer() signer.Signer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.signer
}

// Account returns the derived smart account, or nil. The interface is nil
// (not a typed nil) when no account is derived.
func (w *Workspace) Account() account.SmartAccount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.account == nil {
		return nil
	}
	return w.account
}
