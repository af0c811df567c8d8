package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartswap/pkg/apperr"
	"smartswap/pkg/chain"
	"smartswap/pkg/history"
	"smartswap/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash | swap-id>",
	Short: "Check the status of a swap transaction",
	Long: `Check the on-chain status of a swap by its transaction hash or by the id
recorded in the local swap history.

Examples:
  smartswap status 0x1234...abcd
  smartswap status 0x1234...abcd --watch
  smartswap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the transaction is final")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	txHash, record := resolveTxHash(r, args[0])
	if record != nil && txHash == "" {
		r.Close()
		fail(apperr.Precondition("TX_HASH_UNKNOWN", fmt.Sprintf("Swap %s has no transaction hash yet (user operation %s)", record.ID, record.UserOpHash)))
	}
	if !isTxHash(txHash) {
		r.Close()
		fail(apperr.Validation("INVALID_TX_HASH", fmt.Sprintf("%s is not a transaction hash or a recorded swap id", args[0])))
	}

	eth, err := r.ethClient(cmd.Context())
	if err != nil {
		r.Close()
		fail(err)
	}

	if watchStatus {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			r.Close()
			os.Exit(1)
		}
		watchTxStatus(cmd.Context(), r, eth, txHash, record)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}
	info, err := chain.GetTransactionInfo(cmd.Context(), eth, txHash)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(apperr.Transport("TX_LOOKUP_FAILED", "Failed to look up the transaction", err))
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayStatus(r, info, record)
}

// resolveTxHash maps a swap id from the history to its transaction hash
func resolveTxHash(r *runtime, ref string) (string, *types.SwapRecord) {
	store, err := history.NewStorage(r.cfg.HistoryFile)
	if err != nil {
		return ref, nil
	}
	record, err := store.Get(ref)
	if err != nil {
		return ref, nil
	}
	return record.TxHash, record
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

func watchTxStatus(ctx context.Context, r *runtime, reader chain.TxReader, txHash string, record *types.SwapRecord) {
	if watchInterval < 1 {
		watchInterval = 1
	}
	fmt.Printf("\nWatching transaction %s\n", color.CyanString(txHash))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first
	if checkAndDisplayStatus(ctx, r, reader, txHash, record) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if checkAndDisplayStatus(ctx, r, reader, txHash, record) {
				return
			}
		}
	}
}

// checkAndDisplayStatus reports whether the transaction is final
func checkAndDisplayStatus(ctx context.Context, r *runtime, reader chain.TxReader, txHash string, record *types.SwapRecord) bool {
	info, err := chain.GetTransactionInfo(ctx, reader, txHash)
	if err != nil {
		if ctx.Err() == nil {
			color.Red("[%s] Transaction not available yet", time.Now().Format("15:04:05"))
		}
		return false
	}

	displayStatus(r, info, record)
	return info.Done()
}

func displayStatus(r *runtime, info *chain.TxInfo, record *types.SwapRecord) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                      TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transaction:     %s\n", color.CyanString(info.Hash))
	fmt.Printf("  Status:          %s\n", getColoredStatus(info.Status))
	if record != nil {
		fmt.Printf("  Swap:            %s %s → %s %s (%s)\n",
			record.AmountIn, record.TokenIn, record.AmountOut, record.TokenOut, record.DexType)
		fmt.Printf("  Submitted:       %s\n", record.Timestamp.Local().Format("2006-01-02 15:04:05"))
	}
	if info.To != "" {
		fmt.Printf("  To:              %s\n", color.HiBlackString(info.To))
	}
	fmt.Printf("  Nonce:           %d\n", info.Nonce)
	if info.BlockNumber > 0 {
		fmt.Printf("  Block:           %d\n", info.BlockNumber)
		fmt.Printf("  Gas Used:        %d / %d\n", info.GasUsed, info.GasLimit)
	}
	if link := r.explorerURL(info.Hash); link != "" {
		fmt.Printf("  Explorer:        %s\n", link)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status chain.TxStatus) string {
	switch status {
	case chain.TxSuccess:
		return color.GreenString(string(status))
	case chain.TxPending:
		return color.YellowString(string(status))
	case chain.TxFailed:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}
