package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartswap/pkg/history"
	"smartswap/pkg/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List swaps submitted from this machine",
	Long: `List the swaps recorded locally after submission, newest first. Use
"smartswap status <id>" to check one of them on chain.

Examples:
  smartswap history
  smartswap history --limit 5 --json`,
	Run: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of swaps to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	store, err := history.NewStorage(r.cfg.HistoryFile)
	if err != nil {
		r.Close()
		fail(invalid("HISTORY_UNREADABLE", err))
	}

	records := store.List(historyLimit)
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(records) == 0 {
		fmt.Println("\nNo swaps recorded yet.")
		return
	}
	displayHistory(records, store.Count())
}

func displayHistory(records []*types.SwapRecord, total int) {
	fmt.Println("\n" + strings.Repeat("=", 140))
	color.Green("                                        SWAP HISTORY")
	fmt.Println(strings.Repeat("=", 140))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nTIMESTAMP\tID\tROUTE\tAMOUNT IN\tAMOUNT OUT\tTX HASH")
	fmt.Fprintln(w, strings.Repeat("-", 140))

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s %s\t%s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04"),
			rec.ID,
			rec.DexType,
			rec.AmountIn, rec.TokenIn,
			rec.AmountOut, rec.TokenOut,
			rec.TxHash)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 140))
	fmt.Printf("\nShowing %d of %d swaps\n\n", len(records), total)
}

