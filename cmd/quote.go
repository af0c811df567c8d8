package cmd

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartswap/pkg/apperr"
	"smartswap/pkg/parser"
	"smartswap/pkg/quote"
	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
	"smartswap/pkg/units"
)

var (
	watchQuote    bool
	quoteInterval time.Duration
	quoteIndex    int
	slippage      string
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token>",
	Short: "Price a swap across the aggregator's DEXes",
	Long: `Request quotes for a swap without executing it. Tokens are symbols or
contract addresses. Put the amount after "for" to buy an exact amount.

Examples:
  smartswap quote 1 ETH to USDC
  smartswap quote USDC for 0.5 ETH
  smartswap quote 100 USDC to LINK --watch`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().BoolVarP(&watchQuote, "watch", "w", false, "Re-price continuously")
	quoteCmd.Flags().DurationVar(&quoteInterval, "interval", 0, "Re-pricing interval when watching (default quote_interval)")
	for _, c := range []*cobra.Command{quoteCmd, swapCmd} {
		c.Flags().IntVar(&quoteIndex, "route", 0, "Index of the quote to use (0 is the best)")
		c.Flags().StringVar(&slippage, "slippage", "", "Slippage tolerance in percent (default from config)")
	}
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	bps, err := slippageBps(r)
	if err != nil {
		r.Close()
		fail(err)
	}

	engine, err := newQuoteEngine(cmd, r, args)
	if err != nil {
		r.Close()
		fail(err)
	}

	if watchQuote {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			r.Close()
			os.Exit(1)
		}
		watchQuotes(cmd, r, engine, bps)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quotes..."
		s.Start()
	}
	err = engine.Refresh(cmd.Context())
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}
	if err := selectRoute(engine); err != nil {
		r.Close()
		fail(err)
	}

	state := engine.State()
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(quoteOutput(state, bps), "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayQuotes(state, bps)
}

// newQuoteEngine parses the swap command and loads it into a quote engine
func newQuoteEngine(cmd *cobra.Command, r *runtime, args []string) (*quote.Engine, error) {
	req, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, invalid("INVALID_COMMAND", err)
	}
	if err := parser.ValidateSwapRequest(req); err != nil {
		return nil, invalid("INVALID_COMMAND", err)
	}

	// Quotes are priced for the logged-in user when a session exists
	if _, err := r.session(cmd.Context()); err != nil {
		r.logger.Debug("quoting without a session", zap.Error(err))
	}

	list := r.tokenList(cmd.Context())
	tokenIn, ok := tokens.Find(list, req.SourceToken)
	if !ok {
		return nil, tokenNotFound(req.SourceToken)
	}
	tokenOut, ok := tokens.Find(list, req.DestToken)
	if !ok {
		return nil, tokenNotFound(req.DestToken)
	}
	if tokenIn.Address == tokenOut.Address {
		return nil, apperr.Validation("SAME_TOKEN", "Source and destination tokens must differ")
	}

	engine := quote.NewEngine(r.chainAPI, r.cfg.ChainID, r.logger)
	engine.SetTokenIn(*tokenIn)
	engine.SetTokenOut(*tokenOut)
	if req.Direction == types.ExactOut {
		engine.SetAmountOut(req.Amount)
	} else {
		engine.SetAmountIn(req.Amount)
	}
	return engine, nil
}

func tokenNotFound(ref string) error {
	return apperr.Validation("TOKEN_NOT_FOUND", fmt.Sprintf("Token %s is not supported (try: smartswap list-tokens)", ref))
}

func slippageBps(r *runtime) (int64, error) {
	value := slippage
	if value == "" {
		value = r.cfg.Slippage
	}
	return quote.ParseSlippageBps(value)
}

// selectRoute applies --route once quotes are known
func selectRoute(engine *quote.Engine) error {
	state := engine.State()
	if len(state.Quotes) == 0 {
		return quote.ErrQuoteIndex.Wrap(fmt.Errorf("no route available for this pair"))
	}
	return engine.Select(quoteIndex)
}

func watchQuotes(cmd *cobra.Command, r *runtime, engine *quote.Engine, bps int64) {
	interval := quoteInterval
	if interval <= 0 {
		interval = r.cfg.QuoteInterval
	}

	state := engine.State()
	fmt.Printf("\nWatching quotes for %s → %s\n", color.YellowString(state.TokenIn.Symbol), color.YellowString(state.TokenOut.Symbol))
	fmt.Printf("Re-pricing every %s. Press Ctrl+C to stop.\n", interval)

	poller := quote.NewPoller(engine, r.logger)
	poller.SetInterval(interval)
	poller.SetRequestTimeout(r.cfg.RequestTimeout)
	poller.OnUpdate = func(s quote.State) {
		if s.Err != nil {
			color.Red("[%s] %s", time.Now().Format("15:04:05"), apperr.UserMessage(s.Err, "Failed to get quotes"))
			return
		}
		if quoteIndex > 0 && quoteIndex < len(s.Quotes) {
			_ = engine.Select(quoteIndex)
			s = engine.State()
		}
		displayQuotes(s, bps)
	}

	if err := poller.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
		r.Close()
		fail(err)
	}
}

func quoteOutput(s quote.State, bps int64) map[string]interface{} {
	routes := make([]map[string]interface{}, 0, len(s.Quotes))
	for i, q := range s.Quotes {
		routes = append(routes, map[string]interface{}{
			"index":          i,
			"dex_type":       q.DexType,
			"amount_in":      units.FormatUnits(q.AmountIn.Big(), s.TokenIn.Decimals),
			"amount_out":     units.FormatUnits(q.AmountOut.Big(), s.TokenOut.Decimals),
			"min_amount_out": units.FormatUnits(quote.MinAmountOut(q.AmountOut.Big(), bps), s.TokenOut.Decimals),
			"amount_in_usd":  q.AmountInUSD,
			"amount_out_usd": q.AmountOutUSD,
			"price_impact":   q.PriceImpact,
		})
	}
	return map[string]interface{}{
		"token_in":     s.TokenIn.Symbol,
		"token_out":    s.TokenOut.Symbol,
		"amount_in":    s.AmountIn,
		"amount_out":   s.AmountOut,
		"swap_exact":   s.Direction,
		"slippage_bps": bps,
		"selected":     s.Selected,
		"quotes":       routes,
	}
}

func displayQuotes(s quote.State, bps int64) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", s.AmountIn, color.YellowString(s.TokenIn.Symbol))
	fmt.Printf("  To:                ~%s %s\n", s.AmountOut, color.YellowString(s.TokenOut.Symbol))
	fmt.Printf("  Mode:              %s\n", s.Direction)
	fmt.Printf("  Slippage:          %s%%\n", units.FormatUnits(big.NewInt(bps), 2))

	if len(s.Quotes) == 0 {
		color.Yellow("\n  No route found for this pair and amount.")
		fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
		return
	}

	fmt.Println()
	for i, q := range s.Quotes {
		marker := "  "
		if i == s.Selected {
			marker = color.GreenString("▶ ")
		}
		fmt.Printf("  %s[%d] %-14s %s %s → %s %s\n",
			marker, i, q.DexType,
			units.FormatUnits(q.AmountIn.Big(), s.TokenIn.Decimals), s.TokenIn.Symbol,
			units.FormatUnits(q.AmountOut.Big(), s.TokenOut.Decimals), s.TokenOut.Symbol)
	}

	if q, ok := s.SelectedQuote(); ok {
		fmt.Printf("\n  Minimum Received:  %s %s\n",
			units.FormatUnits(quote.MinAmountOut(q.AmountOut.Big(), bps), s.TokenOut.Decimals),
			color.YellowString(s.TokenOut.Symbol))
		if q.AmountInUSD != "" || q.AmountOutUSD != "" {
			fmt.Printf("  Value:             $%s → $%s\n", orDash(q.AmountInUSD.String()), orDash(q.AmountOutUSD.String()))
		}
		if q.PriceImpact != "" {
			fmt.Printf("  Price Impact:      %s%%\n", q.PriceImpact)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
