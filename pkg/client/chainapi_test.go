package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"smartswap/pkg/types"
)

func TestChainAPIClientHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chain/wallet/supported-tokens", r.URL.Path)
		assert.Equal(t, "42161", r.URL.Query().Get("chainId"))
		assert.Equal(t, "en", r.Header.Get("x-language"))
		assert.Equal(t, "web", r.Header.Get("x-platform"))
		assert.Equal(t, "2.3.0", r.Header.Get("x-version-id"))
		assert.Equal(t, "id-token", r.Header.Get("Authorization"))
		assert.JSONEq(t, `{"sub":"u1"}`, r.Header.Get("user"))

		_, _ = w.Write([]byte(`{"data":[{"address":"0xaf88d065e77c8cc2239327c5edb3a432268e5831","symbol":"USDC","decimals":6,"chainId":"42161"}]}`))
	}))
	defer srv.Close()

	c := NewChainAPIClient(srv.URL+"/v1/chain", ChainAPIOptions{VersionID: "2.3.0"}, zaptest.NewLogger(t)).WithHTTPClient(srv.Client())
	require.NoError(t, c.SetIdentity("id-token", map[string]interface{}{"sub": "u1"}))

	list, err := c.GetSupportedTokens(context.Background(), 42161)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "USDC", list[0].Symbol)
}

func TestGetQuotesAndBuild(t *testing.T) {
	router := common.HexToAddress("0x4444444444444444444444444444444444444444")
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/quotes", func(w http.ResponseWriter, r *http.Request) {
		var req QuotesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1000000", req.Amount)
		assert.Equal(t, types.ExactIn, req.SwapExact)
		assert.Equal(t, "42161", req.ChainID)
		_, _ = w.Write([]byte(`{"data":{"quotes":[{"dexType":"UNISWAP_V3","quoteRaw":{"x":1},"amountIn":"1000000","amountOut":"995000"}]}}`))
	})
	mux.HandleFunc("/wallet/quotes/build", func(w http.ResponseWriter, r *http.Request) {
		var req BuildQuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(50), req.SlippageTolerance)
		assert.JSONEq(t, `{"x":1}`, string(req.QuoteRaw))
		_, _ = w.Write([]byte(`{"data":{"target":"` + router.Hex() + `","value":"0","callData":"0x1234"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewChainAPIClient(srv.URL, ChainAPIOptions{}, nil).WithHTTPClient(srv.Client())

	quotes, err := c.GetQuotes(context.Background(), QuotesRequest{Amount: "1000000", ChainID: "42161", SwapExact: types.ExactIn})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "995000", quotes[0].AmountOut.String())

	built, err := c.BuildQuote(context.Background(), BuildQuoteRequest{QuoteRaw: quotes[0].QuoteRaw, SlippageTolerance: 50})
	require.NoError(t, err)
	assert.Equal(t, router, built.Target)
	assert.Equal(t, []byte{0x12, 0x34}, []byte(built.CallData))
}

func TestChainAPIClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewChainAPIClient(srv.URL, ChainAPIOptions{Timeout: 20 * time.Millisecond}, nil).WithHTTPClient(srv.Client())
	_, err := c.GetQuotes(context.Background(), QuotesRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestChainAPIClientRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":{"quotes":[]}}`))
	}))
	defer srv.Close()

	c := NewChainAPIClient(srv.URL, ChainAPIOptions{RateLimit: 1}, nil).WithHTTPClient(srv.Client())

	_, err := c.GetQuotes(context.Background(), QuotesRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetQuotes(ctx, QuotesRequest{})
	assert.Error(t, err, "second request within the same second waits past the deadline")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
