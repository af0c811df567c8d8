package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smartswap/pkg/types"
)

const (
	supportedTokensPath = "/wallet/supported-tokens"
	quotesPath          = "/wallet/quotes"
	buildQuotePath      = "/wallet/quotes/build"
)

// QuotesRequest asks the aggregator to price a swap. Amount is in minor
// units of tokenIn (EXACT_IN) or tokenOut (EXACT_OUT).
type QuotesRequest struct {
	Amount    string          `json:"amount"`
	ChainID   string          `json:"chainId"`
	SwapExact types.SwapExact `json:"swapExact"`
	TokenIn   common.Address  `json:"tokenIn"`
	TokenOut  common.Address  `json:"tokenOut"`
}

// BuildQuoteRequest turns a quote into router calldata
type BuildQuoteRequest struct {
	ChainID           string          `json:"chainId"`
	Deadline          int64           `json:"deadline"`
	DexType           string          `json:"dexType"`
	QuoteRaw          json.RawMessage `json:"quoteRaw"`
	Sender            common.Address  `json:"sender"`
	Recipient         common.Address  `json:"recipient"`
	SlippageTolerance int64           `json:"slippageTolerance"`
}

type quotesData struct {
	Quotes []types.Quote `json:"quotes"`
}

// ChainAPIClient talks to the chain API (token list, quotes, swap building)
type ChainAPIClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	headers http.Header
}

// ChainAPIOptions configures the client
type ChainAPIOptions struct {
	VersionID string
	// RateLimit is requests per second; 0 disables limiting
	RateLimit float64
	Timeout   time.Duration
}

// NewChainAPIClient creates a new chain API client
func NewChainAPIClient(baseURL string, opts ChainAPIOptions, logger *zap.Logger) *ChainAPIClient {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := http.Header{}
	headers.Set("x-language", "en")
	headers.Set("x-platform", "web")
	headers.Set("x-version-id", opts.VersionID)
	headers.Set("user", "{}")

	return &ChainAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		limiter: limiter,
		timeout: opts.Timeout,
		logger:  logger,
		headers: headers,
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (c *ChainAPIClient) WithHTTPClient(hc *http.Client) *ChainAPIClient {
	c.http = hc
	return c
}

// SetIdentity sets the Authorization (id token) and user (decoded claims) headers
func (c *ChainAPIClient) SetIdentity(idToken string, claims map[string]interface{}) error {
	if claims == nil {
		claims = map[string]interface{}{}
	}
	user, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to encode user claims: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Set("Authorization", idToken)
	c.headers.Set("user", string(user))
	return nil
}

// GetSupportedTokens retrieves the tokens supported on chainID
func (c *ChainAPIClient) GetSupportedTokens(ctx context.Context, chainID int64) ([]types.Token, error) {
	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(chainID, 10))

	var resp Envelope[[]types.Token]
	if err := c.do(ctx, http.MethodGet, supportedTokensPath+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	return resp.Data, nil
}

// GetQuotes prices a swap across the aggregator's DEXes
func (c *ChainAPIClient) GetQuotes(ctx context.Context, req QuotesRequest) ([]types.Quote, error) {
	var resp Envelope[quotesData]
	if err := c.do(ctx, http.MethodPost, quotesPath, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	return resp.Data.Quotes, nil
}

// BuildQuote returns the router call executing a quote
func (c *ChainAPIClient) BuildQuote(ctx context.Context, req BuildQuoteRequest) (*types.BuiltSwap, error) {
	var resp Envelope[*types.BuiltSwap]
	if err := c.do(ctx, http.MethodPost, buildQuotePath, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to build quote: %w", err)
	}
	if resp.Data == nil || resp.Data.Target == (common.Address{}) {
		return nil, fmt.Errorf("empty build response")
	}
	return resp.Data, nil
}

func (c *ChainAPIClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	header := c.headers.Clone()
	c.mu.RUnlock()

	start := time.Now()
	err := DoJSON(ctx, c.http, method, c.baseURL+path, header, in, out)
	c.logger.Debug("chain api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}
