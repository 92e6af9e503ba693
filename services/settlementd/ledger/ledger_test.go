package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"idlechain/services/settlementd/models"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
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

func TestCreditAndDebit(t *testing.T) {
	db := setupLedgerTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Participant{ID: "alice", Balance: 100}).Error)

	require.NoError(t, Credit(ctx, db, "alice", 50))
	require.NoError(t, Debit(ctx, db, "alice", 30))

	balance, err := Balance(ctx, db, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(120), balance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	db := setupLedgerTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Participant{ID: "bob", Balance: 10}).Error)

	err := Debit(ctx, db, "bob", 11)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := Balance(ctx, db, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance, "failed debit must not change the balance")
}

func TestUnknownParticipant(t *testing.T) {
	db := setupLedgerTestDB(t)
	ctx := context.Background()

	require.ErrorIs(t, Credit(ctx, db, "ghost", 1), ErrParticipantNotFound)
	require.ErrorIs(t, Debit(ctx, db, "ghost", 1), ErrParticipantNotFound)
	_, err := Balance(ctx, db, "ghost")
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	db := setupLedgerTestDB(t)
	ctx := context.Background()
	require.ErrorIs(t, Credit(ctx, db, "alice", 0), ErrInvalidAmount)
	require.ErrorIs(t, Debit(ctx, db, "alice", -5), ErrInvalidAmount)
}

func TestConcurrentCreditAndDebitNoLostUpdate(t *testing.T) {
	db := setupLedgerTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Participant{ID: "carol", Balance: 1_000}).Error)

	const workers = 40
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- Credit(ctx, db, "carol", 7)
		}()
		go func() {
			defer wg.Done()
			errs <- Debit(ctx, db, "carol", 3)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := Balance(ctx, db, "carol")
	require.NoError(t, err)
	require.Equal(t, int64(1_000+workers*7-workers*3), balance)
}
