// Package main is subsctl, the operator CLI for the subscription store.
//
//	subsctl migrate                 apply pending database migrations
//	subsctl replay <payment-id>     fetch and reconcile one payment
//	subsctl status <user-id>        print the subscriber's entitlement
//	subsctl cancel <user-id>        cancel the subscriber's active row
//
// It reads the same environment as the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"guied/internal/app"
	"guied/internal/billing"
	"guied/internal/config"
	"guied/internal/db"
	"guied/internal/types"
)

// Replayer re-runs the reconcile pipeline for one payment.
type Replayer interface {
	ProcessPayment(ctx context.Context, paymentID string) (billing.Outcome, error)
}

// Entitlements reads and cancels subscriptions.
type Entitlements interface {
	Status(ctx context.Context, userID string) (types.Entitlement, error)
	Cancel(ctx context.Context, userID string) error
}

// session is an opened set of dependencies for one command.
type session struct {
	replayer     Replayer
	entitlements Entitlements
	close        func()
}

// environment opens what the commands need. Tests replace both funcs.
type environment struct {
	open    func(ctx context.Context) (*session, error)
	migrate func(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(liveEnvironment()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func liveEnvironment() environment {
	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		return cfg, nil
	}

	return environment{
		open: func(ctx context.Context) (*session, error) {
			cfg, err := load()
			if err != nil {
				return nil, err
			}
			logger := app.NewLogger(cfg.LogLevel)
			deps, err := app.Build(ctx, cfg, logger, app.Options{SkipQueue: true, SkipMetrics: true})
			if err != nil {
				return nil, err
			}
			return &session{
				replayer:     deps.Processor,
				entitlements: deps.Resolver,
				close:        func() { _ = deps.Close(context.Background()) },
			}, nil
		},
		migrate: func(ctx context.Context) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.LogLevel)
			pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.Database.URL.Unmask(), MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(ctx, pool, logger)
		},
	}
}

func newRootCmd(env environment) *cobra.Command {
	root := &cobra.Command{
		Use:          "subsctl",
		Short:        "Operate the Guied subscription store",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCmd(env),
		newReplayCmd(env),
		newStatusCmd(env),
		newCancelCmd(env),
	)
	return root
}

func newMigrateCmd(env environment) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := env.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newReplayCmd(env environment) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <payment-id>",
		Short: "Fetch a payment from Mercado Pago and reconcile it",
		Long: `Replay runs one payment through the same pipeline as the webhook.
Reconciliation is idempotent: a payment that was already applied reports
"duplicate" and leaves the subscription untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			outcome, err := s.replayer.ProcessPayment(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s: %s\n", args[0], outcome)
			return nil
		},
	}
}

func newStatusCmd(env environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Print a subscriber's entitlement as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			ent, err := s.entitlements.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ent)
		},
	}
}

func newCancelCmd(env environment) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <user-id>",
		Short: "Cancel a subscriber's active subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.entitlements.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscriber %s canceled\n", args[0])
			return nil
		},
	}
}
