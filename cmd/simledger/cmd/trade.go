package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/service"
	"github.com/alanyoungcy/simledger/internal/targets"
)

func parseTradeType(s string) (domain.TradeType, error) {
	switch strings.ToLower(s) {
	case "long", "buy":
		return domain.TradeLong, nil
	case "short", "sell":
		return domain.TradeShort, nil
	}
	return "", fmt.Errorf("unknown side %q (long or short)", s)
}

func optional(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func newOpenCmd(rt *cliState) *cobra.Command {
	var (
		req                   service.OpenRequest
		side, mode, orderType string
		takeProfit, stopLoss  float64
		ladder                []float64
	)
	cmd := &cobra.Command{
		Use:   "open TICKER",
		Short: "Open a market, limit or stop-limit position",
		Example: `  simledger open BTCUSDT --side long --margin 100 --leverage 10
  simledger open ETHUSDT --side short --type limit --price 3600 --margin 50 --leverage 5 --target 3400 --target 3200
  simledger open SOLUSDT --mode spot --margin 200 --sell-half`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := parseTradeType(side)
			if err != nil {
				return err
			}
			req.Ticker = args[0]
			req.TradeType = tt
			req.Mode = domain.PositionMode(mode)
			req.OrderType = domain.OrderType(orderType)
			req.TakeProfit = optional(cmd, "tp", takeProfit)
			req.StopLoss = optional(cmd, "sl", stopLoss)
			for i, price := range ladder {
				req.TakeProfitTargets = append(req.TakeProfitTargets, domain.TakeProfitTarget{
					ID:    fmt.Sprintf("tp%d", i+1),
					Price: price,
				})
			}

			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			p, err := deps.Positions.Open(ctxOf(cmd), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, service.View(p))
		},
	}
	f := cmd.Flags()
	f.StringVar(&side, "side", "long", "long or short")
	f.StringVar(&mode, "mode", string(domain.ModeFutures), "spot or futures")
	f.StringVar(&orderType, "type", string(domain.OrderMarket), "market, limit or stop-limit")
	f.Float64Var(&req.Margin, "margin", 0, "margin to commit")
	f.IntVar(&req.Leverage, "leverage", 1, "leverage (forced to 1 for spot)")
	f.Float64Var(&req.Price, "price", 0, "entry or trigger price; market orders default to the cached mark")
	f.Float64Var(&takeProfit, "tp", 0, "take-profit price")
	f.Float64Var(&stopLoss, "sl", 0, "stop-loss price")
	f.Float64SliceVar(&ladder, "target", nil, "take-profit ladder price (repeatable, up to 3)")
	f.StringVar(&req.Risk, "risk", "", "free-form risk label")
	f.BoolVar(&req.SellHalfOnDoubling, "sell-half", false, "spot: realize half when the price doubles")
	_ = cmd.MarkFlagRequired("margin")
	return cmd
}

func newCloseCmd(rt *cliState) *cobra.Command {
	var (
		price  float64
		reason string
	)
	cmd := &cobra.Command{
		Use:   "close ID",
		Short: "Close a position at a price or at its mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			res, err := deps.Positions.Close(ctxOf(cmd), args[0], price, domain.CloseReason(reason))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "close price; 0 uses the mark price")
	cmd.Flags().StringVar(&reason, "reason", string(domain.CloseManual), "manual, tp, sl, liquidation or partial (projection only)")
	return cmd
}

func newPartialCmd(rt *cliState) *cobra.Command {
	var fraction, price float64
	cmd := &cobra.Command{
		Use:   "partial ID",
		Short: "Realize a fraction of a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			res, err := deps.Positions.TakePartial(ctxOf(cmd), args[0], fraction, price)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&fraction, "fraction", 0.5, "share of the margin to realize, in (0, 1)")
	cmd.Flags().Float64Var(&price, "price", 0, "price; 0 uses the mark price")
	return cmd
}

func newCancelCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending order and refund its margin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			bal, err := deps.Positions.CancelPending(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}
}

func newCloseAllCmd(rt *cliState) *cobra.Command {
	var estimate bool
	cmd := &cobra.Command{
		Use:   "close-all",
		Short: "Close every active position at its mark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			if estimate {
				est, err := deps.Positions.EstimateCloseAll(ctxOf(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd, est)
			}
			results, err := deps.Positions.CloseAll(ctxOf(cmd))
			if perr := printJSON(cmd, results); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&estimate, "estimate", false, "only report what closing would realize")
	return cmd
}

func newLeverageCmd(rt *cliState) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "leverage ID LEVERAGE",
		Short: "Change the leverage of a futures position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lev int
			if _, err := fmt.Sscanf(args[1], "%d", &lev); err != nil {
				return fmt.Errorf("leverage %q: %w", args[1], err)
			}
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			updated, err := deps.Positions.AdjustLeverage(ctxOf(cmd), args[0], lev, all)
			if err != nil {
				return err
			}
			views := make([]service.PositionView, 0, len(updated))
			for _, p := range updated {
				views = append(views, service.View(p))
			}
			return printJSON(cmd, views)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply to every open futures position")
	return cmd
}

func newTPSLCmd(rt *cliState) *cobra.Command {
	var (
		ladder   []float64
		stopLoss float64
	)
	cmd := &cobra.Command{
		Use:   "tpsl ID",
		Short: "Replace the take-profit ladder and stop loss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ladder) > targets.MaxTargets {
				return fmt.Errorf("at most %d targets", targets.MaxTargets)
			}
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			rungs := make([]domain.TakeProfitTarget, 0, len(ladder))
			for i, price := range ladder {
				rungs = append(rungs, domain.TakeProfitTarget{ID: fmt.Sprintf("tp%d", i+1), Price: price})
			}
			p, corrected, err := deps.Positions.SetTakeProfitStopLoss(ctxOf(cmd), args[0], rungs, optional(cmd, "sl", stopLoss))
			if err != nil {
				return err
			}
			if corrected {
				fmt.Fprintln(cmd.ErrOrStderr(), "targets were corrected to keep the minimum gap")
			}
			return printJSON(cmd, service.View(p))
		},
	}
	cmd.Flags().Float64SliceVar(&ladder, "target", nil, "take-profit price (repeatable)")
	cmd.Flags().Float64Var(&stopLoss, "sl", 0, "stop-loss price")
	return cmd
}

func newTargetCmd(rt *cliState) *cobra.Command {
	var (
		add          bool
		remove, edit string
		price, pct   float64
	)
	cmd := &cobra.Command{
		Use:   "target ID",
		Short: "Add, edit or remove one take-profit rung",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := rt.deps(cmd)
			if err != nil {
				return err
			}
			ctx, id := ctxOf(cmd), args[0]
			var (
				p         domain.Position
				corrected bool
			)
			switch {
			case add:
				p, corrected, err = deps.Positions.AddTarget(ctx, id)
			case remove != "":
				p, corrected, err = deps.Positions.RemoveTarget(ctx, id, remove)
			default:
				p, corrected, err = deps.Positions.EditTarget(ctx, id, edit, service.TargetEdit{
					Price:      optional(cmd, "price", price),
					Percentage: optional(cmd, "pct", pct),
				})
			}
			if err != nil {
				return err
			}
			if corrected {
				fmt.Fprintln(cmd.ErrOrStderr(), "targets were corrected to keep the minimum gap")
			}
			return printJSON(cmd, service.View(p))
		},
	}
	cmd.Flags().BoolVar(&add, "add", false, "append a rung one step beyond the last")
	cmd.Flags().StringVar(&remove, "remove", "", "id of the rung to remove")
	cmd.Flags().StringVar(&edit, "edit", "", "id of the rung to edit")
	cmd.Flags().Float64Var(&price, "price", 0, "new rung price (with --edit)")
	cmd.Flags().Float64Var(&pct, "pct", 0, "new rung percentage from entry (with --edit)")
	cmd.MarkFlagsMutuallyExclusive("add", "remove", "edit")
	cmd.MarkFlagsOneRequired("add", "remove", "edit")
	cmd.MarkFlagsMutuallyExclusive("price", "pct")
	return cmd
}
