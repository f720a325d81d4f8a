package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/service"
)

func newPositionsCmd(rt *cliState) *cobra.Command {
	var (
		mode, status, ticker string
		asJSON               bool
	)
	cmd := &cobra.Command{
		Use:     "positions [id]",
		Aliases: []string{"ls"},
		Short:   "List open and pending positions, or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				p, err := deps.Positions.Get(ctxOf(cmd), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, service.View(p))
			}
			list, err := deps.Positions.List(ctxOf(cmd), service.ListFilter{
				Mode:   domain.PositionMode(mode),
				Status: domain.PositionStatus(status),
				Ticker: ticker,
			})
			if err != nil {
				return err
			}
			views := make([]service.PositionView, 0, len(list))
			for _, p := range list {
				views = append(views, service.View(p))
			}
			if asJSON {
				return printJSON(cmd, views)
			}
			return printPositions(cmd, views)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "filter by position mode (spot, futures)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, active)")
	cmd.Flags().StringVar(&ticker, "ticker", "", "filter by ticker")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printPositions(cmd *cobra.Command, views []service.PositionView) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTICKER\tSIDE\tMODE\tSTATUS\tLEV\tMARGIN\tENTRY\tMARK\tPNL\tROE%\tLIQ")
	for _, v := range views {
		id := v.ID
		if v.ReadOnly {
			id += " (demo)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dx\t%.2f\t%s\t%s\t%.2f\t%.2f\t%s\n",
			id, v.Ticker, v.TradeType, v.PositionMode, v.Status, v.Leverage, v.Margin,
			num(v.EntryPrice), num(v.MarkPrice), v.Result.PnL, v.Result.ROE, num(v.Result.LiquidationPrice))
	}
	return tw.Flush()
}

func num(f float64) string {
	if f == 0 {
		return "-"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", f), "0"), ".")
}
