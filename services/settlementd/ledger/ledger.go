package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"idlechain/services/settlementd/models"
)

var (
	// ErrParticipantNotFound indicates the balance owner does not exist.
	ErrParticipantNotFound = errors.New("ledger: participant not found")
	// ErrInsufficientBalance indicates a debit would drive the balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount is returned for zero or negative deltas.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Credit adds amount to the participant balance as a relative delta. The
// update never reads the current balance, so concurrent credits and debits
// from other writers interleave without lost updates.
func Credit(ctx context.Context, db *gorm.DB, participantID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	res := db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("id = ?", participantID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: credit %s: %w", participantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// Debit subtracts amount from the participant balance. The guard is evaluated
// by the store in the same statement as the decrement.
func Debit(ctx context.Context, db *gorm.DB, participantID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	res := db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("id = ? AND balance >= ?", participantID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: debit %s: %w", participantID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", participantID).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger: debit %s: %w", participantID, err)
	}
	if count == 0 {
		return ErrParticipantNotFound
	}
	return ErrInsufficientBalance
}

// Balance reads the current balance. It is informational only and must not be
// used to compute a subsequent write.
func Balance(ctx context.Context, db *gorm.DB, participantID string) (int64, error) {
	var participant models.Participant
	err := db.WithContext(ctx).Select("balance").First(&participant, "id = ?", participantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrParticipantNotFound
		}
		return 0, fmt.Errorf("ledger: balance %s: %w", participantID, err)
	}
	return participant.Balance, nil
}
