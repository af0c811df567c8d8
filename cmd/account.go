package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartswap/pkg/chain"
	"smartswap/pkg/types"
)

var showZero bool

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the smart account and its owner",
	Long: `Resolve the signer and provision the smart account, then show both
addresses. The account is created on chain with the first swap.

Examples:
  smartswap account
  smartswap account --signer custodial`,
	Run: runAccount,
}

var balancesCmd = &cobra.Command{
	Use:     "balances",
	Aliases: []string{"balance", "bal"},
	Short:   "Show token balances of the smart account",
	Long: `Read the balance of every supported token held by the smart account in a
single multicall.

Examples:
  smartswap balances
  smartswap balances --all`,
	Run: runBalances,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(balancesCmd)

	balancesCmd.Flags().BoolVar(&showZero, "all", false, "Include tokens with a zero balance")
}

func runAccount(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Resolving smart account..."
		s.Start()
	}

	ws, err := r.workspace(cmd)
	var deployed bool
	if err == nil {
		var initCode []byte
		initCode, err = ws.Account().InitCode(cmd.Context())
		deployed = len(initCode) == 0
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}

	strategy, _ := r.strategy(cmd)
	acct := ws.Account()

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(map[string]interface{}{
			"account":     acct.Address().Hex(),
			"owner":       acct.Owner().Hex(),
			"signer":      strategy,
			"chain_id":    acct.ChainID().Int64(),
			"entry_point": acct.EntryPoint().Hex(),
			"deployed":    deployed,
		}, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    SMART ACCOUNT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Account:      %s\n", color.CyanString(acct.Address().Hex()))
	fmt.Printf("  Owner:        %s\n", acct.Owner().Hex())
	fmt.Printf("  Signer:       %s\n", strategy)
	fmt.Printf("  Chain ID:     %d\n", acct.ChainID().Int64())
	fmt.Printf("  EntryPoint:   %s\n", color.HiBlackString(acct.EntryPoint().Hex()))
	if deployed {
		fmt.Printf("  Deployed:     %s\n", color.GreenString("yes"))
	} else {
		fmt.Printf("  Deployed:     %s\n", color.YellowString("no (created with the first swap)"))
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func runBalances(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
	}

	balances, list, owner, err := readBalances(cmd, r)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(map[string]interface{}{
			"account":  owner.Hex(),
			"balances": balances,
		}, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	displayBalances(owner, list, balances)
}

func readBalances(cmd *cobra.Command, r *runtime) (map[string]string, []types.Token, common.Address, error) {
	ws, err := r.workspace(cmd)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	eth, err := r.ethClient(cmd.Context())
	if err != nil {
		return nil, nil, common.Address{}, err
	}

	owner := ws.Account().Address()
	list := r.tokenList(cmd.Context())
	reader := chain.NewBalanceReader(eth, common.HexToAddress(r.cfg.Multicall), r.logger)
	balances, err := reader.Balances(cmd.Context(), owner, list)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	return balances, list, owner, nil
}

func displayBalances(owner common.Address, list []types.Token, balances map[string]string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                           BALANCES")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Account: %s\n\n", color.CyanString(owner.Hex()))

	sorted := make([]types.Token, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	shown := 0
	for _, token := range sorted {
		amount := balances[token.Address.Hex()]
		if amount == "" {
			amount = "0"
		}
		if amount == "0" && !showZero {
			continue
		}
		shown++
		fmt.Printf("  %-10s  %28s  %s\n",
			color.YellowString(token.Symbol),
			amount,
			color.HiBlackString(token.Address.Hex()))
	}
	if shown == 0 {
		fmt.Println("  No balances. Use --all to list every supported token.")
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
