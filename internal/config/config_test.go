package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5000.0, cfg.Ledger.SpotBalance)
	assert.Equal(t, 10000.0, cfg.Ledger.FuturesBalance)
	assert.Equal(t, 3*time.Second, cfg.Targets.NotifyThrottle.Duration)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[ledger]
account = "alice"
max_leverage = 50
lock_ttl = "2s"

[storage]
backend = "memory"

[feed]
symbols = ["BTCUSDT"]
`), 0o600))

	t.Setenv("SIMLEDGER_LEDGER_MAX_LEVERAGE", "25")
	t.Setenv("SIMLEDGER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SIMLEDGER_FEED_INTERVAL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "alice", cfg.Ledger.Account)
	assert.Equal(t, 25, cfg.Ledger.MaxLeverage)
	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Feed.Interval.Duration)
	assert.Equal(t, 20, cfg.Ledger.MaxPositions)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ledger]\nmax_levrage = 3\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.max_levrage")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Backend = "mongo"
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = ""
	cfg.Archive.Enabled = true
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`storage: unknown backend "mongo"`,
		"redis: addr must not be empty",
		"s3: bucket must not be empty",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Notify.Events = []string{"error"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "error", cfg.Notify.Events[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestExampleFileLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Defaults().Ledger, cfg.Ledger)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Feed.Symbols)
}
