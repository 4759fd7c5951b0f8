package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"L402Paywall/internal/config"
	"L402Paywall/internal/models"
	"L402Paywall/internal/observability"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"
	"L402Paywall/internal/worker"

	"github.com/spf13/cobra"
)

type cliEnv struct {
	configPath string
	open       func(ctx context.Context, cfg *config.Config) (store.Store, func(), error)
}

func (e *cliEnv) store(ctx context.Context) (*config.Config, store.Store, func(), error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	open := e.open
	if open == nil {
		open = store.Open
	}
	st, closer, err := open(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, closer, nil
}

// intentView lets the owner id be printed next to the intent's public
// fields.
type intentView models.PaymentIntent

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signupCmd(env *cliEnv) *cobra.Command {
	var credits int64
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a user and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, closer, err := env.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			starting := cfg.Paywall.StartingCredits
			if cmd.Flags().Changed("credits") {
				starting = credits
			}
			user, err := services.Accounts{Store: st, StartingCredits: starting}.Signup(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().Int64Var(&credits, "credits", 0, "starting credits (default paywall.starting_credits)")
	return cmd
}

func balanceCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closer, err := env.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			user, err := services.Accounts{Store: st}.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
}

func intentCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "intent [token]",
		Short: "Show a payment intent, expiring it if overdue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closer, err := env.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			o := &services.Orchestrator{Store: st, Retry: services.DefaultRetry}
			intent, err := o.GetIntent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := struct {
				UserID string `json:"user_id"`
				*intentView
			}{UserID: intent.UserID, intentView: (*intentView)(intent)}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func reviewCmd(env *cliEnv) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List webhook events flagged for manual review, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closer, err := env.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			flags, err := st.ListReviewFlags(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(flags) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no flagged events")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum flags to show")
	return cmd
}

func sweepCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every pending intent past its deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, closer, err := env.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			w := &worker.Worker{
				Store:      st,
				SweepBatch: cfg.Worker.SweepBatch,
				Logger:     observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()),
			}
			n, err := w.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d intents at %s\n", n, time.Now().UTC().Format(time.RFC3339))
			return nil
		},
	}
}
