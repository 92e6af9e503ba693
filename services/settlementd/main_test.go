package settlementd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"idlechain/services/settlementd/config"
	"idlechain/services/settlementd/models"
)

func TestOpenDatabaseSQLite(t *testing.T) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := openDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 8})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := openDatabase(config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestBuildEmissionFixed(t *testing.T) {
	engine, err := buildEmission(config.SettlementConfig{BlockReward: 500, MaxSupply: 800})
	require.NoError(t, err)

	reward, remaining, err := engine.RewardForBlock(2, 500)
	require.NoError(t, err)
	require.EqualValues(t, 300, reward)
	require.EqualValues(t, 0, remaining)
}

func TestBuildEmissionFromScheduleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"entries":[{"startBlock":1,"amount":10},{"startBlock":5,"amount":3}]}`), 0o600))

	engine, err := buildEmission(config.SettlementConfig{ScheduleFile: path, BlockReward: 999})
	require.NoError(t, err)

	reward, _, err := engine.RewardForBlock(6, 0)
	require.NoError(t, err)
	require.EqualValues(t, 3, reward)

	_, err = buildEmission(config.SettlementConfig{ScheduleFile: filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func TestLogWriterRotatesWhenFileSet(t *testing.T) {
	require.Same(t, os.Stdout, logWriter(config.LogConfig{}))

	path := filepath.Join(t.TempDir(), "settlementd.log")
	w := logWriter(config.LogConfig{File: path, MaxSizeMB: 10, MaxBackups: 2, MaxAgeDays: 3})
	rotating, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	require.Equal(t, path, rotating.Filename)
	require.Equal(t, 10, rotating.MaxSize)
}
