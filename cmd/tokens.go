package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List all supported tokens",
	Long: `List the tokens the aggregator supports on the configured chain. When the
aggregator is unreachable the built-in list is shown.

Examples:
  smartswap list-tokens
  smartswap list-tokens --symbol USDC`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	// The id token is optional here; the list is public
	if _, err := r.session(cmd.Context()); err != nil {
		r.logger.Debug("listing tokens without a session", zap.Error(err))
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}

	list := r.tokenList(cmd.Context())
	if !jsonOutput {
		s.Stop()
	}

	filtered := list
	if filterSymbol != "" {
		var temp []types.Token
		for _, token := range filtered {
			if strings.Contains(strings.ToUpper(token.Symbol), strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(filtered, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(filtered, r.cfg.ChainID)
	}
}

func displayTokens(list []types.Token, chainID int64) {
	if len(list) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))
	color.Cyan("\nCHAIN %d", chainID)
	fmt.Println(strings.Repeat("-", 90))

	for _, token := range list {
		address := token.Address.Hex()
		if tokens.IsNative(token.Address) {
			address = "native"
		}

		fmt.Printf("  %-10s  %2d decimals  %-20s  %s\n",
			color.YellowString(token.Symbol),
			token.Decimals,
			token.Name,
			color.HiBlackString(address))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(list))
}
