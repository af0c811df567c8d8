package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenUnmarshalAcceptsStringAndNumberChainID(t *testing.T) {
	raw := `[
		{"address":"0xaf88d065e77c8cc2239327c5edb3a432268e5831","symbol":"USDC","decimals":6,"chainId":"42161"},
		{"address":"0xf97f4df75117a78c1A5a0DBb814Af92458539FB4","symbol":"LINK","decimals":18,"chainId":42161}
	]`

	var tokens []Token
	require.NoError(t, json.Unmarshal([]byte(raw), &tokens))
	require.Len(t, tokens, 2)

	assert.Equal(t, ChainID(42161), tokens[0].ChainID)
	assert.Equal(t, ChainID(42161), tokens[1].ChainID)
	assert.Equal(t, common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831"), tokens[0].Address)
}

func TestQuoteUnmarshal(t *testing.T) {
	raw := `{
		"dexType":"UNISWAP_V3",
		"quoteRaw":{"path":"0x01"},
		"tokenIn":"0xaf88d065e77c8cc2239327c5edb3a432268e5831",
		"tokenOut":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		"amountIn":"1000000",
		"amountOut":350000000000000,
		"priceImpact":"0.12",
		"amountInUsd":"1.00",
		"amountOutUsd":0.99
	}`

	var q Quote
	require.NoError(t, json.Unmarshal([]byte(raw), &q))

	assert.Equal(t, "1000000", q.AmountIn.String())
	assert.Equal(t, "350000000000000", q.AmountOut.String())
	assert.Equal(t, "0.12", q.PriceImpact.String())
	assert.JSONEq(t, `{"path":"0x01"}`, string(q.QuoteRaw))
}

func TestBigIntMarshalsAsString(t *testing.T) {
	out, err := json.Marshal(struct {
		V BigInt `json:"v"`
	}{V: NewBigInt(nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"0"}`, string(out))
}

func TestSessionExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, (*Session)(nil).Expired(now))
	assert.False(t, (&Session{}).Expired(now))
	assert.True(t, (&Session{AccessTokenExpiredAt: now.Unix() - 1}).Expired(now))
	assert.False(t, (&Session{AccessTokenExpiredAt: now.Unix() + 60}).Expired(now))
	assert.False(t, (&Session{AccessTokenExpiredAt: (now.Unix() + 60) * 1000}).Expired(now))
}
