// Package cmd holds the cobra command tree of the simledger binary.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/simledger/internal/app"
	"github.com/alanyoungcy/simledger/internal/config"
)

const defaultConfigPath = "config.toml"

// cliState carries the loaded configuration and the lazily wired
// application shared by every subcommand of one invocation.
type cliState struct {
	configPath string
	logOut     io.Writer

	cfg    *config.Config
	logger *slog.Logger
	app    *app.App
}

// NewRootCmd builds the command tree. Logs go to logOut.
func NewRootCmd(logOut io.Writer) *cobra.Command {
	rt := &cliState{logOut: logOut}

	root := &cobra.Command{
		Use:           "simledger",
		Short:         "Simulated spot and futures position ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `simledger keeps a simulated trading ledger: spot and futures balances,
open and pending positions, take-profit ladders, stop losses, liquidations
and the closed-trade history.

"serve" runs the HTTP/WebSocket API and the price feed. The other commands
work directly against the configured stores.`,
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.app != nil {
				rt.app.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", defaultConfigPath, "path to configuration file")

	root.AddCommand(
		newServeCmd(rt),
		newPositionsCmd(rt),
		newOpenCmd(rt),
		newCloseCmd(rt),
		newPartialCmd(rt),
		newCancelCmd(rt),
		newCloseAllCmd(rt),
		newLeverageCmd(rt),
		newTPSLCmd(rt),
		newTargetCmd(rt),
		newBalanceCmd(rt),
		newHistoryCmd(rt),
		newStatsCmd(rt),
		newConfigCmd(rt),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree with logs on stderr.
func Execute() error {
	root := NewRootCmd(os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// load reads and validates the configuration once. A missing default file
// is not an error; defaults and SIMLEDGER_* variables still apply.
func (rt *cliState) load(cmd *cobra.Command) error {
	if rt.cfg != nil {
		return nil
	}
	path := rt.configPath
	if path == defaultConfigPath && !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = slog.New(slog.NewJSONHandler(rt.logOut, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(rt.logger)
	return nil
}

// deps wires the application for a one-shot command.
func (rt *cliState) deps(cmd *cobra.Command) (*app.Dependencies, error) {
	if err := rt.load(cmd); err != nil {
		return nil, err
	}
	if rt.app == nil {
		rt.app = app.New(rt.cfg, rt.logger)
	}
	return rt.app.Dependencies(ctxOf(cmd))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
