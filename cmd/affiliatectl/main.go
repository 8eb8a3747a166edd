package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"partnerhub/config"
	"partnerhub/internal/database"
	"partnerhub/internal/gateway/clients"
	commissionhandler "partnerhub/internal/services/commissions/handler"
	settingshandler "partnerhub/internal/services/settings/handler"
	statshandler "partnerhub/internal/services/stats/handler"
	"partnerhub/internal/utils"
)

const defaultMaxBatches = 1000

type options struct {
	cfg     config.Config
	target  string
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{cfg: config.LoadConfig()}

	rootCmd := &cobra.Command{
		Use:           "affiliatectl",
		Short:         "Operate the affiliate commission ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.target, "target", opts.cfg.GRPC.Target, "commission service address")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")

	rootCmd.AddCommand(
		newReleaseStatusCommand(opts),
		newReleaseCommand(opts),
		newComputeCommand(opts),
		newRecountCommand(opts),
		newTokenCommand(opts),
	)
	return rootCmd
}

func withClient(cmd *cobra.Command, opts *options, fn func(ctx context.Context, c *clients.GRPCClients) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	grpcClients, err := clients.NewGRPCClients(opts.target)
	if err != nil {
		return err
	}
	defer grpcClients.Close()
	return fn(ctx, grpcClients)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReleaseStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "release-status",
		Short: "Show how many held commissions are ready for release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *clients.GRPCClients) error {
				st, err := c.Commissions.ReleaseReady(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

type releaser interface {
	ProcessReleases(ctx context.Context, opts ...grpc.CallOption) (*commissionhandler.ReleaseResult, error)
}

// releaseAll runs batches until one releases nothing or reports no more work.
func releaseAll(ctx context.Context, r releaser, maxBatches int, out io.Writer) (int64, decimal.Decimal, error) {
	var count int64
	amount := decimal.Zero
	for batch := 1; batch <= maxBatches; batch++ {
		res, err := r.ProcessReleases(ctx)
		if err != nil {
			return count, amount, err
		}
		count += res.ReleasedCount
		amount = amount.Add(res.ReleasedAmount)
		fmt.Fprintf(out, "batch %d: released %d (%s)\n", batch, res.ReleasedCount, res.ReleasedAmount.StringFixed(2))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  error: %s\n", e)
		}
		if res.ReleasedCount == 0 || !res.HasMore {
			return count, amount, nil
		}
	}
	return count, amount, fmt.Errorf("stopped after %d batches with work remaining", maxBatches)
}

func newReleaseCommand(opts *options) *cobra.Command {
	var all bool
	var maxBatches int
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Move eligible commissions from held to available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *clients.GRPCClients) error {
				if !all {
					res, err := c.Commissions.ProcessReleases(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}
				count, amount, err := releaseAll(ctx, c.Commissions, maxBatches, cmd.OutOrStdout())
				fmt.Fprintf(cmd.OutOrStdout(), "total released %d (%s)\n", count, amount.StringFixed(2))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "repeat batches until nothing is left")
	cmd.Flags().IntVar(&maxBatches, "max-batches", defaultMaxBatches, "upper bound on batches with --all")
	return cmd
}

func newComputeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compute <appointment-id>",
		Short: "Compute the commission of a closed appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *clients.GRPCClients) error {
				res, err := c.Commissions.ComputeCommission(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

// recount talks to the database directly; it is a maintenance tool and not part of the
// commission service API.
func newRecountCommand(opts *options) *cobra.Command {
	var affiliateID string
	cmd := &cobra.Command{
		Use:   "recount",
		Short: "Recompute affiliate counters from raw rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			logger := config.NewLogger(opts.cfg.LogLevel)
			db, err := database.NewConnection(opts.cfg.DB.DSN)
			if err != nil {
				return err
			}
			settings := settingshandler.NewSettingsHandler(db, nil, logger)
			stats := statshandler.NewStatsHandler(db, nil, settings, opts.cfg.Attribution.Location, logger)

			results, err := stats.Recount(ctx, affiliateID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&affiliateID, "affiliate", "", "limit to one affiliate id")
	return cmd
}

func newTokenCommand(opts *options) *cobra.Command {
	var role, userID, affiliateID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, expires, err := utils.GenerateToken([]byte(opts.cfg.Auth.JWTSecret), userID, role, affiliateID, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "expires_at": expires})
		},
	}
	cmd.Flags().StringVar(&role, "role", utils.RoleAdmin, "admin, closer, funnel or affiliate")
	cmd.Flags().StringVar(&userID, "user", "ops", "subject user id")
	cmd.Flags().StringVar(&affiliateID, "affiliate", "", "affiliate id for affiliate tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
