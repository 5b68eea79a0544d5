package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"boardsync/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenSecret   string
	tokenIssuer   string
	tokenAudience string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect or issue session tokens",
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect [token]",
	Short: "Print the claims of a token without verifying it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := cfg.Token
		if len(args) == 1 {
			token = args[0]
		}
		info, err := auth.Inspect(token, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("subject:  %s\n", info.Subject)
		fmt.Printf("issuer:   %s\n", info.Issuer)
		fmt.Printf("audience: %s\n", strings.Join(info.Audience, ", "))
		if info.ExpiresAt.IsZero() {
			fmt.Println("expires:  never")
		} else {
			fmt.Printf("expires:  %s (expired: %v)\n", info.ExpiresAt.Format(time.RFC3339), info.Expired)
		}
		return nil
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <subject>",
	Short: "Sign a token for a development sync server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			tokenSecret = os.Getenv("BOARDSYNC_JWT_SECRET")
		}
		token, err := auth.Issue(auth.IssuerConfig{
			Secret:   []byte(tokenSecret),
			Issuer:   tokenIssuer,
			Audience: tokenAudience,
			TTL:      tokenTTL,
		}, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSecret, "secret", "", "HMAC secret (default $BOARDSYNC_JWT_SECRET)")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "boardsync", "iss claim")
	tokenIssueCmd.Flags().StringVar(&tokenAudience, "audience", "board", "aud claim")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	tokenCmd.AddCommand(tokenInspectCmd, tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}
