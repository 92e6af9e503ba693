package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"idlechain/services/settlementd/models"
)

func setupLeaseTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	require.ErrorIs(t, lock.Release(ctx), ErrNotHeld)
}

func TestLeaseLockExcludesOtherHolders(t *testing.T) {
	db := setupLeaseTestDB(t)
	ctx := context.Background()
	first, err := NewLeaseLock(db, "settlement", time.Minute)
	require.NoError(t, err)
	second, err := NewLeaseLock(db, "settlement", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first.Holder(), second.Holder())

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, second.Release(ctx), ErrNotHeld)

	require.NoError(t, first.Release(ctx))
	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var lease models.SettlementLease
	require.NoError(t, db.First(&lease, "name = ?", "settlement").Error)
	require.Equal(t, second.Holder(), lease.Holder)
}

func TestLeaseLockReclaimsExpiredLease(t *testing.T) {
	db := setupLeaseTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	crashed, err := NewLeaseLock(db, "settlement", time.Minute, WithLeaseClock(clock), WithHolder("crashed"))
	require.NoError(t, err)
	ok, err := crashed.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	successor, err := NewLeaseLock(db, "settlement", time.Minute, WithLeaseClock(func() time.Time { return now.Add(30 * time.Second) }))
	require.NoError(t, err)
	ok, err = successor.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	successor.now = func() time.Time { return now.Add(2 * time.Minute) }
	ok, err = successor.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChainReleasesPartialAcquisition(t *testing.T) {
	ctx := context.Background()
	first := NewLocalLock()
	busy := NewLocalLock()
	ok, err := busy.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	chained := Chain(first, busy)
	ok, err = chained.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "first lock must be released after a busy chain")
}
