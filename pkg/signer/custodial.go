package signer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"smartswap/pkg/apperr"
	"smartswap/pkg/client"
)

const (
	loginPath        = "/signer/login"
	recoveryPath     = "/signer/recovery"
	systemOwnerPath  = "/signer/system-owner"
	signHashPath     = "/signer/sign-hash"
	signMessagePath  = "/signer/sign-message"
	signatureLength  = 65
	recoveryIDOffset = 64
)

// LoginParams unlocks the custodial wallet with the wallet password
type LoginParams struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

// RecoveryParams restores the custodial wallet on a new device
type RecoveryParams struct {
	UserID       string `json:"userId"`
	Password     string `json:"password"`
	RecoveryCode string `json:"recoveryCode"`
}

type addressResponse struct {
	Address common.Address `json:"address"`
}

type signatureResponse struct {
	Signature hexutil.Bytes `json:"signature"`
}

// CustodialWallet is the handle of one user's custodial signer. StartSession,
// Login and Recovery on the same handle never run concurrently.
type CustodialWallet struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	opMu sync.Mutex

	mu          sync.RWMutex
	accessToken string
	address     common.Address
}

// NewCustodialWallet creates a handle against the wallet backend
func NewCustodialWallet(baseURL string, hc *http.Client, logger *zap.Logger) *CustodialWallet {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustodialWallet{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// StartSession binds the handle to an access token. Starting with the
// current token again is a no-op; a new token forgets the cached owner.
func (w *CustodialWallet) StartSession(_ context.Context, accessToken string) error {
	if accessToken == "" {
		return ErrSessionRequired
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.accessToken == accessToken {
		return nil
	}
	w.accessToken = accessToken
	w.address = common.Address{}
	w.logger.Debug("custodial session started")
	return nil
}

// Login unlocks the wallet with the user's wallet password
func (w *CustodialWallet) Login(ctx context.Context, params LoginParams) error {
	if params.UserID == "" || params.Password == "" {
		return apperr.Validation("WALLET_PASSWORD_REQUIRED", "Login and wallet password is required")
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()

	if err := w.do(ctx, http.MethodPost, loginPath, params, nil); err != nil {
		w.logger.Error("wallet login failed", zap.String("user_id", params.UserID), zap.Error(err))
		return apperr.Transport("WALLET_LOGIN_FAILED", "Login wallet error", err)
	}
	return nil
}

// Recovery restores the wallet from its recovery code
func (w *CustodialWallet) Recovery(ctx context.Context, params RecoveryParams) error {
	if params.UserID == "" || params.Password == "" || params.RecoveryCode == "" {
		return apperr.Validation("RECOVERY_INPUT_REQUIRED", "Recovery phrase, wallet password is required")
	}

	w.opMu.Lock()
	defer w.opMu.Unlock()

	if err := w.do(ctx, http.MethodPost, recoveryPath, params, nil); err != nil {
		w.logger.Error("wallet recovery failed", zap.String("user_id", params.UserID), zap.Error(err))
		return apperr.Transport("WALLET_RECOVERY_FAILED", "Recovery error", err)
	}
	return nil
}

// SystemOwnerAddress returns the owner address controlled by the custodial
// signer, fetching it once per session.
func (w *CustodialWallet) SystemOwnerAddress(ctx context.Context) (common.Address, error) {
	if addr := w.Address(); addr != (common.Address{}) {
		return addr, nil
	}

	var resp client.Envelope[addressResponse]
	if err := w.do(ctx, http.MethodGet, systemOwnerPath, nil, &resp); err != nil {
		return common.Address{}, fmt.Errorf("failed to get system owner: %w", err)
	}
	if resp.Data.Address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("wallet backend returned no system owner")
	}

	w.mu.Lock()
	w.address = resp.Data.Address
	w.mu.Unlock()
	return resp.Data.Address, nil
}

// Address returns the cached system owner, or the zero address before
// SystemOwnerAddress succeeded.
func (w *CustodialWallet) Address() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

// AccessToken returns the token the handle's session was started with
func (w *CustodialWallet) AccessToken() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accessToken
}

// SignHash asks the custodial signer to sign a digest
func (w *CustodialWallet) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return w.sign(ctx, signHashPath, map[string]string{"hash": hash.Hex()})
}

// SignMessage asks the custodial signer to sign an EIP-191 personal message
func (w *CustodialWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return w.sign(ctx, signMessagePath, map[string]string{"message": hexutil.Encode(msg)})
}

// Logout ends the custodial session
func (w *CustodialWallet) Logout(context.Context) error {
	return apperr.NotImplemented("custodial wallet logout")
}

// CheckDeviceShare reports whether this device holds a key share
func (w *CustodialWallet) CheckDeviceShare(context.Context) (bool, error) {
	return false, apperr.NotImplemented("custodial wallet device share check")
}

func (w *CustodialWallet) sign(ctx context.Context, path string, body any) ([]byte, error) {
	var resp client.Envelope[signatureResponse]
	if err := w.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	sig := []byte(resp.Data.Signature)
	if len(sig) != signatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[recoveryIDOffset] < 27 {
		sig[recoveryIDOffset] += 27
	}
	return sig, nil
}

func (w *CustodialWallet) do(ctx context.Context, method, path string, in, out any) error {
	token := w.AccessToken()
	if token == "" {
		return ErrSessionRequired
	}

	header := http.Header{}
	header.Set("Authorization", token)
	return client.DoJSON(ctx, w.http, method, w.baseURL+path, header, in, out)
}

var _ Signer = (*CustodialWallet)(nil)
