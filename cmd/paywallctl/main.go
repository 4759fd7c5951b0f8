package main

import (
	"fmt"
	"os"

	"L402Paywall/internal/store"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(&cliEnv{open: store.Open}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(env *cliEnv) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paywallctl",
		Short:         "Operator tooling for the L402 paywall ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&env.configPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	rootCmd.AddCommand(signupCmd(env))
	rootCmd.AddCommand(balanceCmd(env))
	rootCmd.AddCommand(intentCmd(env))
	rootCmd.AddCommand(reviewCmd(env))
	rootCmd.AddCommand(sweepCmd(env))
	return rootCmd
}
