// Package tokens holds token descriptors: the native-asset sentinel, the
// built-in fallback list and lookup helpers.
package tokens

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"smartswap/pkg/types"
)

// ArbitrumOne is the default target chain
const ArbitrumOne int64 = 42161

// NativeAddress is the sentinel aggregators use for the chain's native asset
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNative reports whether addr denotes the native asset
func IsNative(addr common.Address) bool {
	return addr == NativeAddress || addr == (common.Address{})
}

var fallback = map[int64][]types.Token{
	ArbitrumOne: {
		{
			Address:  NativeAddress,
			Symbol:   "ETH",
			Name:     "ETH Coin",
			Decimals: 18,
			ChainID:  types.ChainID(ArbitrumOne),
		},
		{
			Address:  common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831"),
			Symbol:   "USDC",
			Name:     "USD Coin",
			Decimals: 6,
			ChainID:  types.ChainID(ArbitrumOne),
		},
		{
			Address:  common.HexToAddress("0xb139400e664144908bF5c9F7a757dC2993eCb139"),
			Symbol:   "B139",
			Name:     "B139",
			Decimals: 18,
			ChainID:  types.ChainID(ArbitrumOne),
		},
		{
			Address:  common.HexToAddress("0x3A8f583b44fC86C32C192A377cb5e861310f869D"),
			Symbol:   "TB139",
			Name:     "TB139",
			Decimals: 18,
			ChainID:  types.ChainID(ArbitrumOne),
		},
		{
			Address:  common.HexToAddress("0xf97f4df75117a78c1A5a0DBb814Af92458539FB4"),
			Symbol:   "LINK",
			Name:     "ChainLink Token",
			Decimals: 18,
			ChainID:  types.ChainID(ArbitrumOne),
		},
	},
}

// Fallback returns a copy of the built-in token list for chainID
func Fallback(chainID int64) []types.Token {
	list := fallback[chainID]
	out := make([]types.Token, len(list))
	copy(out, list)
	return out
}

// Lister fetches the aggregator's token list
type Lister interface {
	GetSupportedTokens(ctx context.Context, chainID int64) ([]types.Token, error)
}

// LoadSupported asks the aggregator for its token list and falls back to the
// built-in list when the request fails.
func LoadSupported(ctx context.Context, lister Lister, chainID int64, logger *zap.Logger) []types.Token {
	list, err := lister.GetSupportedTokens(ctx, chainID)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to get supported tokens, using built-in list",
				zap.Int64("chain_id", chainID), zap.Error(err))
		}
		return Fallback(chainID)
	}
	return list
}

// FindByAddress returns the token whose address equals addr.
// common.Address values compare case-insensitively by construction.
func FindByAddress(list []types.Token, addr common.Address) (*types.Token, bool) {
	for i := range list {
		if list[i].Address == addr {
			return &list[i], true
		}
	}
	return nil, false
}

// Find resolves a symbol or hex address against list. Symbols match exactly
// (case-insensitive) first, then by prefix.
func Find(list []types.Token, ref string) (*types.Token, bool) {
	ref = strings.TrimSpace(ref)
	if common.IsHexAddress(ref) {
		return FindByAddress(list, common.HexToAddress(ref))
	}

	symbol := strings.ToUpper(ref)
	for i := range list {
		if strings.ToUpper(list[i].Symbol) == symbol {
			return &list[i], true
		}
	}
	for i := range list {
		if strings.HasPrefix(strings.ToUpper(list[i].Symbol), symbol) {
			return &list[i], true
		}
	}
	return nil, false
}

// Swappable filters out tokens hidden from swaps
func Swappable(list []types.Token) []types.Token {
	out := make([]types.Token, 0, len(list))
	for _, t := range list {
		if !t.IsHiddenSwap {
			out = append(out, t)
		}
	}
	return out
}
