package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartswap/pkg/account"
	"smartswap/pkg/bundler"
	"smartswap/pkg/history"
	"smartswap/pkg/quote"
	"smartswap/pkg/swap"
	"smartswap/pkg/types"
	"smartswap/pkg/units"
)

var noConfirm bool

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap tokens from the smart account",
	Long: `Swap tokens held by the smart account. The best quote (or --route) is built
into a router call; ERC-20 sells are approved for exactly the quoted amount.
Both calls are signed as one user operation and submitted through the bundler
(submit_mode: bundler) or the relayer key (submit_mode: relayer).

Examples:
  # Sell an exact amount
  smartswap swap 1 ETH to USDC

  # Buy an exact amount
  smartswap swap USDC for 0.05 ETH --slippage 0.5

  # Use the second best route and skip the confirmation
  smartswap swap 100 USDC to LINK --route 1 --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

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

	// Get quotes with spinner
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quotes..."
		s.Start()
	}
	err = engine.Refresh(ctx)
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
	if !jsonOutput {
		displayQuotes(state, bps)
	}

	if !jsonOutput {
		s.Suffix = " Preparing smart account..."
		s.Start()
	}
	assembler, params, err := prepareSwap(cmd, r, state, bps)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}

	if verbose {
		fmt.Printf("Smart account: %s\n", params.Account.Address().Hex())
		fmt.Printf("Owner:         %s\n", params.Account.Owner().Hex())
		fmt.Printf("Submit mode:   %s\n", r.cfg.SubmitMode)
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			r.Close()
			os.Exit(0)
		}
	}

	if !jsonOutput {
		s.Suffix = " Signing and submitting user operation..."
		s.Start()
	}
	res, err := assembler.Swap(ctx, params)
	if !jsonOutput {
		s.Stop()
	}
	unconfirmed := errors.Is(err, swap.ErrSubmitUnconfirmed) && res != nil
	if err != nil && !unconfirmed {
		r.Close()
		fail(err)
	}
	if unconfirmed {
		r.logger.Warn("swap not confirmed", zap.Error(err))
	}

	record := swapRecord(r, state, params, res, bps)
	if store, err := history.NewStorage(r.cfg.HistoryFile); err != nil {
		r.logger.Warn("failed to open swap history", zap.Error(err))
	} else if err := store.Add(record); err != nil {
		r.logger.Warn("failed to record swap", zap.Error(err))
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(map[string]interface{}{
			"id":             record.ID,
			"tx_hash":        record.TxHash,
			"user_op_hash":   res.UserOpHash.Hex(),
			"account":        params.Account.Address().Hex(),
			"dex_type":       res.Quote.DexType,
			"amount_in":      record.AmountIn,
			"amount_out":     record.AmountOut,
			"min_amount_out": record.MinAmountOut,
			"explorer_url":   explorerLink(r, record.TxHash),
			"status":         swapStatus(unconfirmed),
		}, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displaySwapResult(r, res, record, unconfirmed)
}

func swapStatus(unconfirmed bool) string {
	if unconfirmed {
		return "unconfirmed"
	}
	return "submitted"
}

// prepareSwap resolves the account and the submission path, then checks the
// swap preconditions so nothing is confirmed that cannot be sent
func prepareSwap(cmd *cobra.Command, r *runtime, state quote.State, bps int64) (*swap.Assembler, swap.Params, error) {
	ctx := cmd.Context()

	submitter, estimator, err := r.submitter(ctx)
	if err != nil {
		return nil, swap.Params{}, err
	}
	// Offline checks first; provisioning the account reads the chain
	if submitter == nil {
		return nil, swap.Params{}, swap.ErrSubmitterNotConnected
	}
	if err := swap.CheckRoute(state.Quotes, state.Selected); err != nil {
		return nil, swap.Params{}, err
	}

	var acct account.SmartAccount
	ws, wsErr := r.workspace(cmd)
	if wsErr == nil {
		acct = ws.Account()
	}

	eth, err := r.ethClient(ctx)
	if err != nil {
		return nil, swap.Params{}, err
	}
	preparer := bundler.NewPreparer(eth, estimator, r.logger)
	assembler := swap.NewAssembler(r.chainAPI, preparer, submitter, r.cfg.Deadline, r.logger)

	params := swap.Params{
		Account:     acct,
		TokenIn:     state.TokenIn.Address,
		Quotes:      state.Quotes,
		Selected:    state.Selected,
		SlippageBps: bps,
	}
	if _, err := assembler.Check(params); err != nil {
		if errors.Is(err, swap.ErrAccountNotFound) && wsErr != nil {
			return nil, swap.Params{}, wsErr
		}
		return nil, swap.Params{}, err
	}
	return assembler, params, nil
}

func swapRecord(r *runtime, state quote.State, params swap.Params, res *swap.Result, bps int64) *types.SwapRecord {
	return &types.SwapRecord{
		ChainID:      r.cfg.ChainID,
		Account:      params.Account.Address(),
		DexType:      res.Quote.DexType,
		TokenIn:      state.TokenIn.Symbol,
		TokenOut:     state.TokenOut.Symbol,
		AmountIn:     units.FormatUnits(res.Quote.AmountIn.Big(), state.TokenIn.Decimals),
		AmountOut:    units.FormatUnits(res.Quote.AmountOut.Big(), state.TokenOut.Decimals),
		MinAmountOut: units.FormatUnits(res.MinAmountOut, state.TokenOut.Decimals),
		SlippageBps:  bps,
		UserOpHash:   res.UserOpHash.Hex(),
		TxHash:       txHashOrEmpty(res),
	}
}

func txHashOrEmpty(res *swap.Result) string {
	if res.TxHash == (common.Hash{}) {
		return ""
	}
	return res.TxHash.Hex()
}

func displaySwapResult(r *runtime, res *swap.Result, record *types.SwapRecord, unconfirmed bool) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	if unconfirmed {
		color.Yellow("               SWAP SENT, NOT CONFIRMED")
	} else {
		color.Green("                   SWAP SUBMITTED")
	}
	fmt.Println(strings.Repeat("=", 60))
	if unconfirmed {
		color.Yellow("\n  The bundler accepted the operation but its inclusion was not observed.")
		color.Yellow("  It may still land on chain; check it before retrying.")
	}

	fmt.Printf("\n  Sold:              %s %s\n", record.AmountIn, color.YellowString(record.TokenIn))
	fmt.Printf("  Expected:          ~%s %s\n", record.AmountOut, color.YellowString(record.TokenOut))
	fmt.Printf("  Minimum:           %s %s\n", record.MinAmountOut, record.TokenOut)
	fmt.Printf("  Route:             %s\n", res.Quote.DexType)
	if record.TxHash != "" {
		fmt.Printf("  Transaction:       %s\n", color.CyanString(record.TxHash))
	}
	if res.UserOpHash != res.TxHash {
		fmt.Printf("  User Operation:    %s\n", color.HiBlackString(res.UserOpHash.Hex()))
	}
	if link := explorerLink(r, record.TxHash); link != "" {
		fmt.Printf("  Explorer:          %s\n", link)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	if record.TxHash == "" {
		fmt.Println("\nThe transaction hash is not known yet. Search for the user operation hash")
		fmt.Println("on an ERC-4337 explorer before sending the swap again.")
		return
	}
	fmt.Println("\nYou can monitor the transaction using:")
	color.Cyan("  smartswap status %s --watch\n", record.TxHash)
}

func explorerLink(r *runtime, txHash string) string {
	if txHash == "" {
		return ""
	}
	return r.explorerURL(txHash)
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
