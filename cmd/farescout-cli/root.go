package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/models"
)

const defaultAccountsPath = "~/.farescout/accounts.json"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "farescout-cli",
	Short: "Compare live airline cash fares with mileage redemptions.",
	Long: `farescout-cli queries a farescout server for live fares from China Airlines,
EVA Air, STARLUX, Cathay Pacific, Tigerair Taiwan and more, and tells you
whether an award ticket is worth your miles.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("api-url", envOr("FARESCOUT_API_URL", "http://127.0.0.1:8080"), "farescout server URL")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("FARESCOUT_API_KEY"), "API key (default $FARESCOUT_API_KEY)")
	rootCmd.PersistentFlags().String("accounts", defaultAccountsPath, "mileage accounts file (JSON array of {airline, member_id, credential})")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(valuateCmd)
}

// loadAccounts reads the accounts file. The default path may be absent;
// an explicitly given one may not.
func loadAccounts(cmd *cobra.Command) (models.Accounts, error) {
	raw, _ := cmd.Flags().GetString("accounts")
	path, err := homedir.Expand(raw)
	if err != nil {
		return nil, fmt.Errorf("accounts path: %w", err)
	}

	accounts, err := config.LoadAccounts(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("accounts") {
			return models.Accounts{}, nil
		}
		return nil, err
	}
	return accounts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
