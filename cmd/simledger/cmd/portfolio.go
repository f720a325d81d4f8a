package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/simledger/internal/domain"
)

func newBalanceCmd(rt *cliState) *cobra.Command {
	var reset string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show both pools, or reset one to its starting balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			if reset != "" {
				pool := domain.Pool(reset)
				if !pool.Valid() {
					return fmt.Errorf("unknown pool %q (spot or futures)", reset)
				}
				bal, err := deps.Portfolio.ResetBalance(ctxOf(cmd), pool)
				if err != nil {
					return err
				}
				return printJSON(cmd, bal)
			}
			balances, err := deps.Portfolio.Balances(ctxOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, balances)
		},
	}
	cmd.Flags().StringVar(&reset, "reset", "", "pool to reset (spot or futures)")
	return cmd
}

func newHistoryCmd(rt *cliState) *cobra.Command {
	var (
		mode, since string
		limit       int
		clearAll    bool
		archives    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List closed trades, archive or clear them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			ctx := ctxOf(cmd)
			switch {
			case clearAll:
				res, err := deps.Portfolio.ClearHistory(ctx, domain.PositionMode(mode))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			case archives:
				list, err := deps.Portfolio.Archives(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			}
			opts := domain.ListOpts{Limit: limit, Mode: domain.PositionMode(mode)}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("since: %w", err)
				}
				opts.Since = &t
			}
			entries, err := deps.Portfolio.History(ctx, opts)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []domain.ClosedSignal{}
			}
			return printJSON(cmd, entries)
		},
	}
	f := cmd.Flags()
	f.StringVar(&mode, "mode", "", "spot or futures; empty means both")
	f.StringVar(&since, "since", "", "only trades closed on or after YYYY-MM-DD")
	f.IntVar(&limit, "limit", 50, "maximum entries")
	f.BoolVar(&clearAll, "clear", false, "archive (when enabled) and clear history for --mode")
	f.BoolVar(&archives, "archives", false, "list uploaded history archives")
	cmd.MarkFlagsMutuallyExclusive("clear", "archives")
	return cmd
}

func newStatsCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show balances, win rate and today's P&L",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			sum, err := deps.Portfolio.Summary(ctxOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}
