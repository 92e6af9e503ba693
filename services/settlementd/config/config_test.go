package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settlementd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 5*time.Minute, cfg.Settlement.Interval.Duration)
	require.Equal(t, 30*time.Second, cfg.Settlement.Timeout.Duration)
	require.Equal(t, time.Minute, cfg.Settlement.LeaseTTL.Duration)
	require.Equal(t, int64(100_000), cfg.Settlement.BlockReward)
	require.Equal(t, 5, cfg.Webhook.MaxAttempts)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
database:
  driver: postgres
  dsn: postgres://file-user@db/idle
settlement:
  interval: 1m
  timeout: 10s
  block_reward: 5000
  settle_on_start: true
webhook:
  endpoint: https://hooks.example.com/settlement
`)
	t.Setenv("SETTLEMENTD_DATABASE_DSN", "postgres://env-user@db/idle")
	t.Setenv("SETTLEMENTD_WEBHOOK_SECRET", "shh")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "postgres://env-user@db/idle", cfg.Database.DSN)
	require.Equal(t, time.Minute, cfg.Settlement.Interval.Duration)
	require.Equal(t, 20*time.Second, cfg.Settlement.LeaseTTL.Duration)
	require.Equal(t, int64(5000), cfg.Settlement.BlockReward)
	require.True(t, cfg.Settlement.SettleOnStart)
	require.Equal(t, "shh", cfg.Webhook.Secret)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":        "database:\n  driver: mysql\n",
		"interval":      "settlement:\n  interval: 10ms\n",
		"lease":         "settlement:\n  timeout: 1m\n  lease_ttl: 30s\n",
		"webhook":       "webhook:\n  endpoint: https://hooks.example.com\n",
		"negative":      "settlement:\n  block_reward: -5\n",
		"bad duration":  "settlement:\n  interval: soon\n",
		"unknown field": "bogus: true\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}
