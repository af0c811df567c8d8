// Package quote keeps the state of the swap form: the token pair, the typed
// amount, the quotes priced for it and the selected route.
package quote

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"smartswap/pkg/apperr"
	"smartswap/pkg/client"
	"smartswap/pkg/types"
	"smartswap/pkg/units"
)

var (
	ErrQuoteIndex    = apperr.Precondition("QUOTE_NOT_FOUND", "Quote not found")
	ErrInvalidAmount = apperr.Validation("INVALID_AMOUNT", "Amount is not a valid number")
)

// Source prices swaps
type Source interface {
	GetQuotes(ctx context.Context, req client.QuotesRequest) ([]types.Quote, error)
}

// State is a snapshot of the engine
type State struct {
	TokenIn    *types.Token
	TokenOut   *types.Token
	AmountIn   string
	AmountOut  string
	Direction  types.SwapExact
	Quotes     []types.Quote
	Selected   int
	Err        error
	Generation uint64
}

// SelectedQuote returns the quote at the selected index
func (s State) SelectedQuote() (*types.Quote, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Quotes) {
		return nil, false
	}
	q := s.Quotes[s.Selected]
	return &q, true
}

// Engine owns the quote state. Every request carries a generation number and
// a response is applied only while its generation is still current, so a
// slow answer for old inputs never overwrites a newer one.
type Engine struct {
	source  Source
	chainID int64
	logger  *zap.Logger

	mu         sync.Mutex
	tokenIn    *types.Token
	tokenOut   *types.Token
	amountIn   string
	amountOut  string
	direction  types.SwapExact
	quotes     []types.Quote
	selected   int
	lastErr    error
	generation uint64
	cancel     context.CancelFunc
}

// NewEngine creates an engine pricing swaps on chainID
func NewEngine(source Source, chainID int64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, chainID: chainID, logger: logger}
}

// invalidate drops quotes and makes any in-flight response stale. Callers hold mu.
func (e *Engine) invalidate() {
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.quotes = nil
	e.selected = 0
	e.lastErr = nil
}

// SetTokenIn selects the token to sell. Choosing the current buy token clears the buy side.
func (e *Engine) SetTokenIn(t types.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tokenIn != nil && e.tokenIn.Address == t.Address {
		return
	}
	if e.tokenOut != nil && e.tokenOut.Address == t.Address {
		e.tokenOut = nil
	}
	e.tokenIn = &t
	e.invalidate()
}

// SetTokenOut selects the token to buy. Choosing the current sell token clears the sell side.
func (e *Engine) SetTokenOut(t types.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tokenOut != nil && e.tokenOut.Address == t.Address {
		return
	}
	if e.tokenIn != nil && e.tokenIn.Address == t.Address {
		e.tokenIn = nil
	}
	e.tokenOut = &t
	e.invalidate()
}

// SetAmountIn enters the sell amount; quotes will be priced EXACT_IN
func (e *Engine) SetAmountIn(amount string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.direction = types.ExactIn
	e.amountIn = amount
	e.amountOut = ""
	e.invalidate()
}

// SetAmountOut enters the buy amount; quotes will be priced EXACT_OUT
func (e *Engine) SetAmountOut(amount string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.direction = types.ExactOut
	e.amountOut = amount
	e.amountIn = ""
	e.invalidate()
}

// Select overrides the default route index 0
func (e *Engine) Select(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i < 0 || i >= len(e.quotes) {
		return ErrQuoteIndex
	}
	e.selected = i
	return nil
}

// Direction returns the current direction, empty until an amount was entered
func (e *Engine) Direction() types.SwapExact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.direction
}

// State returns a snapshot
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		AmountIn:   e.amountIn,
		AmountOut:  e.amountOut,
		Direction:  e.direction,
		Selected:   e.selected,
		Err:        e.lastErr,
		Generation: e.generation,
	}
	if e.tokenIn != nil {
		t := *e.tokenIn
		s.TokenIn = &t
	}
	if e.tokenOut != nil {
		t := *e.tokenOut
		s.TokenOut = &t
	}
	if e.quotes != nil {
		s.Quotes = append([]types.Quote(nil), e.quotes...)
	}
	return s
}

// Refresh requests quotes for the current inputs. Nothing is requested while
// a token or the typed amount is missing or zero; the dependent amount is
// cleared instead. A response that arrives after the inputs changed, or
// after a newer Refresh started, is discarded.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()

	req, ok, err := e.request()
	if err != nil || !ok {
		e.quotes = nil
		e.selected = 0
		e.lastErr = err
		e.setDependent("")
		e.mu.Unlock()
		return err
	}

	e.generation++
	gen := e.generation
	if e.cancel != nil {
		e.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	direction := e.direction
	e.mu.Unlock()

	quotes, err := e.source.GetQuotes(reqCtx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	cancel()

	if gen != e.generation {
		e.logger.Debug("discarding stale quotes", zap.Uint64("generation", gen), zap.Uint64("current", e.generation))
		return nil
	}
	e.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil
		}
		e.logger.Warn("failed to get quotes", zap.String("direction", string(direction)), zap.Error(err))
		e.quotes = nil
		e.selected = 0
		e.lastErr = apperr.Transport("QUOTES_FAILED", "Failed to get quotes", err)
		return e.lastErr
	}

	e.lastErr = nil
	if len(quotes) == 0 {
		e.quotes = nil
		e.selected = 0
		e.setDependent("0")
		return nil
	}

	e.quotes = quotes
	if e.selected >= len(quotes) {
		e.selected = 0
	}
	first := quotes[0]
	if direction == types.ExactIn {
		e.setDependent(units.FormatUnits(first.AmountOut.Big(), e.tokenOut.Decimals))
	} else {
		e.setDependent(units.FormatUnits(first.AmountIn.Big(), e.tokenIn.Decimals))
	}
	return nil
}

// request builds the quote request for the current inputs. Callers hold mu.
func (e *Engine) request() (client.QuotesRequest, bool, error) {
	if e.tokenIn == nil || e.tokenOut == nil || e.direction == "" {
		return client.QuotesRequest{}, false, nil
	}

	amount, decimals := e.amountIn, e.tokenIn.Decimals
	if e.direction == types.ExactOut {
		amount, decimals = e.amountOut, e.tokenOut.Decimals
	}
	if units.IsZero(amount) {
		if _, err := units.ParseUnits(amount, decimals); amount != "" && err != nil {
			return client.QuotesRequest{}, false, ErrInvalidAmount.Wrap(err)
		}
		return client.QuotesRequest{}, false, nil
	}

	minor, err := units.ParseUnits(amount, decimals)
	if err != nil {
		return client.QuotesRequest{}, false, ErrInvalidAmount.Wrap(err)
	}
	// Dust below one minor unit
	if minor.Sign() == 0 {
		return client.QuotesRequest{}, false, nil
	}

	return client.QuotesRequest{
		Amount:    minor.String(),
		ChainID:   strconv.FormatInt(e.chainID, 10),
		SwapExact: e.direction,
		TokenIn:   e.tokenIn.Address,
		TokenOut:  e.tokenOut.Address,
	}, true, nil
}

// setDependent writes the amount on the side the user did not type. Callers hold mu.
func (e *Engine) setDependent(v string) {
	switch e.direction {
	case types.ExactIn:
		e.amountOut = v
	case types.ExactOut:
		e.amountIn = v
	}
}
