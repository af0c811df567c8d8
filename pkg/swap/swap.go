// Package swap turns a selected quote into a signed user operation that
// approves the router and executes the swap in one batch.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"smartswap/pkg/account"
	"smartswap/pkg/apperr"
	"smartswap/pkg/bundler"
	"smartswap/pkg/chain"
	"smartswap/pkg/client"
	"smartswap/pkg/quote"
	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
	"smartswap/pkg/userop"
)

// DefaultDeadline is how long the router accepts the built swap
const DefaultDeadline = 300 * time.Second

var (
	ErrSubmitterNotConnected = apperr.Precondition("BUNDLER_NOT_CONNECTED", "Bundler client not connected")
	ErrAccountNotFound       = apperr.Precondition("SMART_ACCOUNT_NOT_FOUND", "Smart account not found")
	ErrQuotesNotFound        = apperr.Precondition("QUOTES_NOT_FOUND", "Quotes not found")
	ErrQuoteNotFound         = apperr.Precondition("QUOTE_NOT_FOUND", "Quote not found")

	// ErrSubmitUnconfirmed means the operation reached the bundler but its
	// inclusion was not observed. Swap returns a Result with the hashes alongside it.
	ErrSubmitUnconfirmed = &apperr.Error{
		Kind:    apperr.KindTransport,
		Code:    "SUBMIT_UNCONFIRMED",
		Message: "Swap was sent but its confirmation was not observed",
	}
)

// QuoteBuilder turns a quote into a router call
type QuoteBuilder interface {
	BuildQuote(ctx context.Context, req client.BuildQuoteRequest) (*types.BuiltSwap, error)
}

// OperationPreparer fills in nonce, init code, fees and gas
type OperationPreparer interface {
	PrepareUserOperation(ctx context.Context, acct account.SmartAccount, callData []byte) (*userop.UserOperation, error)
}

// Params is everything a swap needs from the caller's state
type Params struct {
	Account     account.SmartAccount
	TokenIn     common.Address
	Quotes      []types.Quote
	Selected    int
	SlippageBps int64
}

// Result describes a submitted swap
type Result struct {
	UserOpHash   common.Hash
	TxHash       common.Hash
	Quote        types.Quote
	MinAmountOut *big.Int
	Deadline     int64
}

// Assembler builds, signs and submits swaps
type Assembler struct {
	builder   QuoteBuilder
	preparer  OperationPreparer
	submitter bundler.Submitter
	deadline  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewAssembler creates an assembler. A nil submitter makes every swap fail
// with ErrSubmitterNotConnected.
func NewAssembler(builder QuoteBuilder, preparer OperationPreparer, submitter bundler.Submitter, deadline time.Duration, logger *zap.Logger) *Assembler {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		builder:   builder,
		preparer:  preparer,
		submitter: submitter,
		deadline:  deadline,
		now:       time.Now,
		logger:    logger,
	}
}

// Check validates the preconditions of a swap in order and returns the selected quote
func (a *Assembler) Check(p Params) (*types.Quote, error) {
	if a.submitter == nil {
		return nil, ErrSubmitterNotConnected
	}
	if p.Account == nil {
		return nil, ErrAccountNotFound
	}
	if err := CheckRoute(p.Quotes, p.Selected); err != nil {
		return nil, err
	}
	q := p.Quotes[p.Selected]
	return &q, nil
}

// CheckRoute reports whether selected names one of quotes
func CheckRoute(quotes []types.Quote, selected int) error {
	if len(quotes) == 0 {
		return ErrQuotesNotFound
	}
	if selected < 0 || selected >= len(quotes) {
		return ErrQuoteNotFound
	}
	return nil
}

// Swap executes the selected quote from the smart account
func (a *Assembler) Swap(ctx context.Context, p Params) (*Result, error) {
	q, err := a.Check(p)
	if err != nil {
		return nil, err
	}

	acct := p.Account
	deadline := a.now().Add(a.deadline).Unix()
	built, err := a.builder.BuildQuote(ctx, client.BuildQuoteRequest{
		ChainID:           strconv.FormatInt(acct.ChainID().Int64(), 10),
		Deadline:          deadline,
		DexType:           q.DexType,
		QuoteRaw:          q.QuoteRaw,
		Sender:            acct.Address(),
		Recipient:         acct.Address(),
		SlippageTolerance: p.SlippageBps,
	})
	if err != nil {
		return nil, apperr.Transport("BUILD_QUOTE_FAILED", "Failed to build swap", err)
	}

	calls, err := BuildCalls(p.TokenIn, q.AmountIn.Big(), built)
	if err != nil {
		return nil, err
	}

	callData, err := acct.EncodeExecuteBatch(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	op, err := a.preparer.PrepareUserOperation(ctx, acct, callData)
	if err != nil {
		return nil, apperr.Transport("PREPARE_FAILED", "Failed to prepare user operation", err)
	}

	sig, err := acct.SignUserOperation(ctx, op)
	if err != nil {
		return nil, apperr.Transport("SIGN_FAILED", "Failed to sign user operation", err)
	}
	op.Signature = sig

	a.logger.Info("submitting swap",
		zap.String("account", acct.Address().Hex()),
		zap.String("dex", q.DexType),
		zap.String("amount_in", q.AmountIn.String()),
		zap.String("amount_out", q.AmountOut.String()),
		zap.Int("calls", len(calls)))

	res, err := a.submitter.Submit(ctx, op)
	if err != nil {
		if res == nil || res.UserOpHash == (common.Hash{}) {
			return nil, apperr.Transport("SUBMIT_FAILED", "Failed to submit swap", err)
		}
		// Already sent; the operation may still land
		a.logger.Warn("swap sent but not confirmed",
			zap.String("user_op_hash", res.UserOpHash.Hex()),
			zap.String("tx_hash", res.TxHash.Hex()),
			zap.Error(err))
		return a.result(res, q, p.SlippageBps, deadline), ErrSubmitUnconfirmed.Wrap(err)
	}

	a.logger.Info("swap submitted",
		zap.String("user_op_hash", res.UserOpHash.Hex()),
		zap.String("tx_hash", res.TxHash.Hex()))

	return a.result(res, q, p.SlippageBps, deadline), nil
}

func (a *Assembler) result(res *bundler.Result, q *types.Quote, bps, deadline int64) *Result {
	return &Result{
		UserOpHash:   res.UserOpHash,
		TxHash:       res.TxHash,
		Quote:        *q,
		MinAmountOut: quote.MinAmountOut(q.AmountOut.Big(), bps),
		Deadline:     deadline,
	}
}

// BuildCalls returns the batch for a swap: an approval of exactly amountIn to
// the router when tokenIn is an ERC-20, then the router call itself.
func BuildCalls(tokenIn common.Address, amountIn *big.Int, built *types.BuiltSwap) ([]types.BatchCall, error) {
	if built == nil {
		return nil, fmt.Errorf("missing router call")
	}

	calls := make([]types.BatchCall, 0, 2)
	if !tokens.IsNative(tokenIn) {
		data, err := chain.PackApprove(built.Target, amountIn)
		if err != nil {
			return nil, fmt.Errorf("failed to pack approve: %w", err)
		}
		calls = append(calls, types.BatchCall{Target: tokenIn, Value: new(big.Int), Data: data})
	}

	calls = append(calls, types.BatchCall{
		Target: built.Target,
		Value:  built.Value.Big(),
		Data:   built.CallData,
	})
	return calls, nil
}
