package signer

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"smartswap/pkg/auth"
)

// Registry owns the custodial wallet handles, one per session id
type Registry struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	handles map[string]*CustodialWallet
	group   singleflight.Group
}

// NewRegistry creates an empty registry for the given wallet backend
func NewRegistry(walletBaseURL string, hc *http.Client, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		baseURL: walletBaseURL,
		http:    hc,
		logger:  logger,
		handles: make(map[string]*CustodialWallet),
	}
}

// Get returns the handle for sessionID, creating it on first use.
// Concurrent first calls share one creation.
func (r *Registry) Get(sessionID string) *CustodialWallet {
	r.mu.Lock()
	if h, ok := r.handles[sessionID]; ok {
		r.mu.Unlock()
		return h
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do(sessionID, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if h, ok := r.handles[sessionID]; ok {
			return h, nil
		}
		h := NewCustodialWallet(r.baseURL, r.http, r.logger.With(zap.String("session_id", sessionID)))
		r.handles[sessionID] = h
		r.logger.Debug("custodial handle created", zap.String("session_id", sessionID))
		return h, nil
	})
	return v.(*CustodialWallet)
}

// Remove drops the handle for sessionID
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, sessionID)
}

// Len returns the number of live handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Handle returns the started handle for the session's user
func (r *Registry) Handle(ctx context.Context, accessToken string) (*CustodialWallet, string, error) {
	if accessToken == "" {
		return nil, "", ErrSessionRequired
	}
	userID, err := auth.Subject(accessToken)
	if err != nil {
		return nil, "", err
	}

	h := r.Get(userID)
	if err := h.StartSession(ctx, accessToken); err != nil {
		return nil, "", err
	}
	return h, userID, nil
}
