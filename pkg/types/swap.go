package types

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SwapExact selects which side of a swap the entered amount refers to
type SwapExact string

const (
	ExactIn  SwapExact = "EXACT_IN"  // Amount is what the user sells
	ExactOut SwapExact = "EXACT_OUT" // Amount is what the user buys
)

// SwapRequest represents a user's swap command
type SwapRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
	Direction   SwapExact
}

// Session is the token bundle returned by the auth backend
type Session struct {
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	AccessTokenExpiredAt int64  `json:"access_token_expired_at"`
	IDToken              string `json:"id_token"`
	IDTokenExpiredAt     int64  `json:"id_token_expired_at"`
	Username             string `json:"username"`
}

// Expired reports whether the access token has expired at now.
// A zero expiry means the backend did not say, and is treated as valid.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.AccessTokenExpiredAt == 0 {
		return false
	}
	return now.Unix() >= normalizeUnix(s.AccessTokenExpiredAt)
}

// ExpiresAt returns the access token expiry, or the zero time when unknown
func (s *Session) ExpiresAt() time.Time {
	if s == nil || s.AccessTokenExpiredAt == 0 {
		return time.Time{}
	}
	return time.Unix(normalizeUnix(s.AccessTokenExpiredAt), 0)
}

// normalizeUnix accepts both second and millisecond timestamps
func normalizeUnix(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}

// Token describes a fungible token supported by the aggregator
type Token struct {
	Address        common.Address `json:"address"`
	Symbol         string         `json:"symbol"`
	Name           string         `json:"name"`
	Decimals       int            `json:"decimals"`
	IsNative       bool           `json:"isNative"`
	Icon           string         `json:"icon,omitempty"`
	IsHiddenBridge bool           `json:"isHiddenBridge"`
	IsHiddenSwap   bool           `json:"isHiddenSwap"`
	ChainID        ChainID        `json:"chainId"`
}

// ChainID accepts both JSON numbers and numeric strings
type ChainID int64

// UnmarshalJSON implements json.Unmarshaler
func (c *ChainID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*c = ChainID(v)
	return nil
}

// BigInt is an integer amount in minor units, carried as a decimal string on the wire
type BigInt struct {
	big.Int
}

// NewBigInt wraps v
func NewBigInt(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Set(v)
	}
	return b
}

// Big returns a copy of the value as *big.Int
func (b *BigInt) Big() *big.Int {
	return new(big.Int).Set(&b.Int)
}

// MarshalJSON implements json.Marshaler
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Int.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n == "" {
		b.SetInt64(0)
		return nil
	}
	if _, ok := b.SetString(string(n), 0); !ok {
		return &json.UnsupportedValueError{Str: string(n)}
	}
	return nil
}

// Quote is one priced route returned by the aggregator
type Quote struct {
	DexType      string          `json:"dexType"`
	QuoteRaw     json.RawMessage `json:"quoteRaw"`
	TokenIn      common.Address  `json:"tokenIn"`
	TokenOut     common.Address  `json:"tokenOut"`
	AmountIn     BigInt          `json:"amountIn"`
	AmountOut    BigInt          `json:"amountOut"`
	PriceImpact  json.Number     `json:"priceImpact,omitempty"`
	AmountInUSD  json.Number     `json:"amountInUsd,omitempty"`
	AmountOutUSD json.Number     `json:"amountOutUsd,omitempty"`
}

// BuiltSwap is the router call returned by the aggregator for a quote
type BuiltSwap struct {
	Target   common.Address `json:"target"`
	Value    BigInt         `json:"value"`
	CallData hexutil.Bytes  `json:"callData"`
}

// BatchCall is one call inside a batched smart account transaction
type BatchCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// SwapRecord is a submitted swap kept in the local history
type SwapRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ChainID      int64          `json:"chain_id"`
	Account      common.Address `json:"account"`
	DexType      string         `json:"dex_type"`
	TokenIn      string         `json:"token_in"`
	TokenOut     string         `json:"token_out"`
	AmountIn     string         `json:"amount_in"`
	AmountOut    string         `json:"amount_out"`
	MinAmountOut string         `json:"min_amount_out"`
	SlippageBps  int64          `json:"slippage_bps"`
	UserOpHash   string         `json:"user_op_hash,omitempty"`
	TxHash       string         `json:"tx_hash"`
}
