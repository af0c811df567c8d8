package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smartswap/pkg/auth"
	"smartswap/pkg/signer"
)

var (
	loginEmail    string
	loginPassword string

	walletUserID       string
	walletPassword     string
	walletRecoveryCode string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session",
	Long: `Log in to the auth backend with email and password. The returned session
(access, refresh and id tokens) is stored locally, or in Redis when
session.backend is redis.

Examples:
  smartswap login --email you@example.com
  SMARTSWAP_PASSWORD=... smartswap login --email you@example.com`,
	Run: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Run:   runLogout,
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the custodial wallet signer",
}

var walletLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Unlock the custodial wallet signer",
	Long: `Unlock the custodial wallet signer of the logged-in user with the wallet
password. The user id defaults to the subject of the session token.`,
	Run: runWalletLogin,
}

var walletRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover the custodial wallet signer with a recovery code",
	Run:   runWalletRecover,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletLoginCmd)
	walletCmd.AddCommand(walletRecoverCmd)

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when empty; SMARTSWAP_PASSWORD is also read)")

	for _, c := range []*cobra.Command{walletLoginCmd, walletRecoverCmd} {
		c.Flags().StringVar(&walletUserID, "user-id", "", "Wallet user id (default: session subject)")
		c.Flags().StringVar(&walletPassword, "password", "", "Wallet password (prompted when empty)")
	}
	walletRecoverCmd.Flags().StringVar(&walletRecoveryCode, "recovery-code", "", "Recovery code (REQUIRED)")
}

func runLogin(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	password := loginPassword
	if password == "" {
		password = os.Getenv("SMARTSWAP_PASSWORD")
	}
	if password == "" && loginEmail != "" && !jsonOutput {
		password = prompt("Password: ")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Logging in..."
		s.Start()
	}

	sess, err := r.auth.Login(cmd.Context(), loginEmail, password)
	if err == nil {
		err = r.store.Save(cmd.Context(), sess)
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}

	userID, _ := auth.Subject(sess.AccessToken)
	if jsonOutput {
		output := map[string]interface{}{
			"username":   sess.Username,
			"user_id":    userID,
			"expires_at": sess.ExpiresAt(),
			"status":     "logged_in",
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	color.Green("\n✓ Logged in as %s", displayName(sess.Username, loginEmail))
	if exp := sess.ExpiresAt(); !exp.IsZero() {
		fmt.Printf("  Session expires: %s\n\n", exp.Local().Format("2006-01-02 15:04:05"))
	}
}

func runLogout(cmd *cobra.Command, args []string) {
	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	if sess, _ := r.store.Load(cmd.Context()); sess != nil {
		if userID, err := auth.Subject(sess.AccessToken); err == nil {
			r.registry.Remove(userID)
		}
	}
	if err := r.store.Clear(cmd.Context()); err != nil {
		r.Close()
		fail(err)
	}
	printSuccess("Logged out.")
}

func runWalletLogin(cmd *cobra.Command, args []string) {
	runWalletUnlock(cmd, false)
}

func runWalletRecover(cmd *cobra.Command, args []string) {
	runWalletUnlock(cmd, true)
}

func runWalletUnlock(cmd *cobra.Command, recovery bool) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	r, err := newRuntime(cmd)
	if err != nil {
		fail(err)
	}
	defer r.Close()

	sess, err := r.requireSession(cmd.Context())
	if err != nil {
		r.Close()
		fail(err)
	}

	wallet, subject, err := r.registry.Handle(cmd.Context(), sess.AccessToken)
	if err != nil {
		r.Close()
		fail(err)
	}

	userID := walletUserID
	if userID == "" {
		userID = subject
	}
	password := walletPassword
	if password == "" && !jsonOutput {
		password = prompt("Wallet password: ")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Unlocking wallet signer..."
		s.Start()
	}

	if recovery {
		err = wallet.Recovery(cmd.Context(), signer.RecoveryParams{UserID: userID, Password: password, RecoveryCode: walletRecoveryCode})
	} else {
		err = wallet.Login(cmd.Context(), signer.LoginParams{UserID: userID, Password: password})
	}
	if err == nil {
		_, err = wallet.SystemOwnerAddress(cmd.Context())
	}
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		r.Close()
		fail(err)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(map[string]string{
			"user_id": userID,
			"owner":   wallet.Address().Hex(),
			"status":  "unlocked",
		}, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	color.Green("\n✓ Wallet signer ready")
	fmt.Printf("  Owner: %s\n\n", color.CyanString(wallet.Address().Hex()))
}

func prompt(label string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(label)

	response, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(response)
}

func displayName(username, fallback string) string {
	if username != "" {
		return username
	}
	return fallback
}
