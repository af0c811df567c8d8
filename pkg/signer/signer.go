// Package signer resolves the owner key of the smart account: either an
// imported private key or the custodial wallet signer of a logged-in user.
package signer

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"smartswap/pkg/apperr"
	"smartswap/pkg/types"
)

// Signer signs on behalf of the smart account owner
type Signer interface {
	Address() common.Address
	// SignHash returns a 65-byte [R || S || V] signature with V in {27, 28}
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// SignMessage signs msg as an EIP-191 personal message
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Strategy selects how the signer is obtained
type Strategy string

const (
	StrategyPrivateKey Strategy = "private-key"
	StrategyCustodial  Strategy = "custodial"
)

var (
	ErrInvalidPrivateKey = apperr.Validation("INVALID_PRIVATE_KEY", "Private key must be 32 bytes of hex")
	ErrSessionRequired   = apperr.Validation("SESSION_REQUIRED", "Login is required")
	ErrUnknownStrategy   = apperr.Validation("UNKNOWN_SIGNER_STRATEGY", "Signer must be one of: private-key, custodial")
	ErrSignerUnavailable = &apperr.Error{Kind: apperr.KindTransport, Code: "SIGNER_UNAVAILABLE", Message: "Signer is not available"}
)

// ParseStrategy parses a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPrivateKey, "privatekey", "private_key", "key":
		return StrategyPrivateKey, nil
	case StrategyCustodial, "bic", "bic-signer":
		return StrategyCustodial, nil
	default:
		return "", ErrUnknownStrategy
	}
}

// Spec is the input of signer resolution. Each strategy reads only its own
// fields: PrivateKey for StrategyPrivateKey, Session for StrategyCustodial.
type Spec struct {
	Strategy   Strategy
	Session    *types.Session
	PrivateKey string
}
