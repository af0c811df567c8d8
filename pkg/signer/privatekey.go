package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeySigner signs with a locally held secp256k1 key
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigner parses a 32-byte hex key, with or without 0x
func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	k := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(k) != 64 {
		return nil, ErrInvalidPrivateKey
	}

	key, err := crypto.HexToECDSA(k)
	if err != nil {
		return nil, ErrInvalidPrivateKey.Wrap(err)
	}

	return &PrivateKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the key's address
func (s *PrivateKeySigner) Address() common.Address {
	return s.address
}

// SignHash signs a 32-byte digest
func (s *PrivateKeySigner) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignMessage signs an EIP-191 personal message
func (s *PrivateKeySigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return s.SignHash(ctx, common.BytesToHash(accounts.TextHash(msg)))
}

var _ Signer = (*PrivateKeySigner)(nil)
