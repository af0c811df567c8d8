package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartswap/pkg/apperr"
)

// logger is replaced by newRuntime once the configuration is known
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "smartswap",
	Short: "A CLI wallet for swapping tokens from an ERC-4337 smart account",
	Long: `smartswap logs you in, resolves the owner of your smart account (an imported
private key or your custodial wallet signer), reads balances and swaps tokens
through a DEX aggregator. Each swap is one user operation that approves the
router and executes the trade in a single batch.

Examples:
  smartswap login --email you@example.com
  smartswap balances
  smartswap quote 1 ETH to USDC --watch
  smartswap swap 100 USDC to ETH --slippage 0.5
  smartswap swap USDC for 0.05 ETH
  smartswap status 0xabc...`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; ctx is cancelled on interrupt
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.smartswap.yaml)")
	rootCmd.PersistentFlags().String("signer", "", "Signer strategy: private-key or custodial (default: private-key when owner_private_key is set)")
}

// printError shows the user-facing message of err. Transport failures are
// logged and shown as a generic message.
func printError(err error) {
	if apperr.KindOf(err) == apperr.KindTransport {
		logger.Error("command failed", zap.Error(err))
	}
	fmt.Printf("\nError: %s\n\n", apperr.UserMessage(err, "Request failed, please try again"))
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
