package signer

import (
	"context"

	"go.uber.org/zap"
)

// Resolver turns a Spec into a Signer
type Resolver struct {
	registry *Registry
	logger   *zap.Logger
}

// NewResolver creates a resolver. registry may be nil when only private keys are used.
func NewResolver(registry *Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: registry, logger: logger}
}

// Resolve produces the signer for spec. Resolving the same spec twice yields
// the same custodial handle and does not refetch its owner.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Signer, error) {
	switch spec.Strategy {
	case StrategyPrivateKey:
		s, err := NewPrivateKeySigner(spec.PrivateKey)
		if err != nil {
			r.logger.Warn("rejected private key")
			return nil, err
		}
		return s, nil

	case StrategyCustodial:
		if spec.Session == nil || spec.Session.AccessToken == "" {
			return nil, ErrSessionRequired
		}
		if r.registry == nil {
			return nil, ErrSignerUnavailable
		}

		h, userID, err := r.registry.Handle(ctx, spec.Session.AccessToken)
		if err != nil {
			return nil, err
		}
		owner, err := h.SystemOwnerAddress(ctx)
		if err != nil {
			r.logger.Error("failed to resolve custodial owner", zap.String("user_id", userID), zap.Error(err))
			return nil, ErrSignerUnavailable.Wrap(err)
		}
		r.logger.Debug("custodial signer resolved", zap.String("owner", owner.Hex()))
		return h, nil

	default:
		return nil, ErrUnknownStrategy
	}
}
