package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempLedger(t *testing.T) {
	t.Helper()
	t.Setenv("SIMLEDGER_STORAGE_BACKEND", "sqlite")
	t.Setenv("SIMLEDGER_SQLITE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("SIMLEDGER_LEDGER_SEED_EXAMPLE", "false")
	t.Setenv("SIMLEDGER_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, raw string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(raw), v), raw)
}

func TestOpenCloseRoundTrip(t *testing.T) {
	useTempLedger(t)

	out, err := run(t, "open", "BTCUSDT", "--side", "long", "--margin", "100", "--leverage", "10", "--price", "50000")
	require.NoError(t, err)
	var opened struct {
		ID               string  `json:"id"`
		Status           string  `json:"status"`
		LiquidationPrice float64 `json:"liquidationPrice"`
	}
	decode(t, out, &opened)
	require.NotEmpty(t, opened.ID)
	assert.Equal(t, "active", opened.Status)
	assert.InDelta(t, 45000, opened.LiquidationPrice, 1e-6)

	out, err = run(t, "positions")
	require.NoError(t, err)
	assert.Contains(t, out, opened.ID)
	assert.Contains(t, out, "BTCUSDT")

	out, err = run(t, "close", opened.ID, "--price", "51000")
	require.NoError(t, err)
	var closed struct {
		PnL     float64 `json:"pnl"`
		Applied bool    `json:"applied"`
		Balance struct {
			Balance float64 `json:"balance"`
		} `json:"balance"`
	}
	decode(t, out, &closed)
	assert.True(t, closed.Applied)
	assert.InDelta(t, 20, closed.PnL, 1e-6)
	assert.InDelta(t, 10020, closed.Balance.Balance, 1e-6)

	_, err = run(t, "close", opened.ID)
	assert.Error(t, err)

	out, err = run(t, "history")
	require.NoError(t, err)
	var history []map[string]any
	decode(t, out, &history)
	assert.Len(t, history, 1)

	out, err = run(t, "stats")
	require.NoError(t, err)
	var sum struct {
		WinRate *float64 `json:"winRate"`
		Stats   struct {
			TotalTrades int64 `json:"totalTrades"`
		} `json:"stats"`
	}
	decode(t, out, &sum)
	assert.EqualValues(t, 1, sum.Stats.TotalTrades)
	require.NotNil(t, sum.WinRate)
	assert.InDelta(t, 100, *sum.WinRate, 1e-9)
}

func TestCancelPendingRefunds(t *testing.T) {
	useTempLedger(t)

	out, err := run(t, "open", "ETHUSDT", "--side", "short", "--type", "limit",
		"--price", "3600", "--margin", "50", "--leverage", "5")
	require.NoError(t, err)
	var opened struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, out, &opened)
	assert.Equal(t, "pending", opened.Status)

	out, err = run(t, "cancel", opened.ID)
	require.NoError(t, err)
	var bal struct {
		Available float64 `json:"available"`
	}
	decode(t, out, &bal)
	assert.InDelta(t, 10000, bal.Available, 1e-6)
}

func TestTargetRungs(t *testing.T) {
	useTempLedger(t)

	out, err := run(t, "open", "BTCUSDT", "--side", "long", "--margin", "100", "--leverage", "10", "--price", "50000")
	require.NoError(t, err)
	var opened struct {
		ID string `json:"id"`
	}
	decode(t, out, &opened)

	type ladder struct {
		Targets []struct {
			ID         string  `json:"id"`
			Price      float64 `json:"price"`
			Percentage float64 `json:"percentage"`
		} `json:"takeProfitTargets"`
	}
	_, err = run(t, "target", opened.ID, "--add")
	require.NoError(t, err)
	out, err = run(t, "target", opened.ID, "--add")
	require.NoError(t, err)
	var l ladder
	decode(t, out, &l)
	require.Len(t, l.Targets, 2)
	assert.InDelta(t, 60000, l.Targets[1].Price, 1e-6)

	out, err = run(t, "target", opened.ID, "--edit", l.Targets[1].ID, "--pct", "30")
	require.NoError(t, err)
	var edited ladder
	decode(t, out, &edited)
	assert.InDelta(t, 65000, edited.Targets[1].Price, 1e-6)

	out, err = run(t, "target", opened.ID, "--remove", l.Targets[0].ID)
	require.NoError(t, err)
	var removed ladder
	decode(t, out, &removed)
	require.Len(t, removed.Targets, 1)
	assert.Equal(t, l.Targets[1].ID, removed.Targets[0].ID)

	_, err = run(t, "target", opened.ID)
	assert.Error(t, err)
	_, err = run(t, "target", opened.ID, "--add", "--remove", "x")
	assert.Error(t, err)
}

func TestOpenRejectsUnknownSide(t *testing.T) {
	useTempLedger(t)
	_, err := run(t, "open", "BTCUSDT", "--side", "up", "--margin", "10")
	assert.ErrorContains(t, err, "unknown side")
}

func TestBalanceReset(t *testing.T) {
	useTempLedger(t)

	_, err := run(t, "balance", "--reset", "margin")
	assert.ErrorContains(t, err, "unknown pool")

	out, err := run(t, "balance", "--reset", "spot")
	require.NoError(t, err)
	var bal struct {
		Pool    string  `json:"pool"`
		Balance float64 `json:"balance"`
	}
	decode(t, out, &bal)
	assert.Equal(t, "spot", bal.Pool)
	assert.InDelta(t, 5000, bal.Balance, 1e-6)
}

func TestConfigRedactsSecrets(t *testing.T) {
	useTempLedger(t)
	t.Setenv("SIMLEDGER_SERVER_API_KEY", "hunter2")

	out, err := run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "account: default")
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "lock_ttl: 5s")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "simledger dev")
}
