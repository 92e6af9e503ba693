package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"idlechain/services/settlementd/models"
)

// boostExpirySlack exceeds the widest span between UTC offsets.
const boostExpirySlack = 48 * time.Hour

// BoostInput is one boost as read at snapshot time.
type BoostInput struct {
	Kind      string
	Percent   decimal.Decimal
	ExpiresAt time.Time
}

// ParticipantState is the frozen view of a participant used for one block.
type ParticipantState struct {
	ID                    string
	Capacity              int64
	PermanentBonusPercent decimal.Decimal
	Boosts                []BoostInput
}

// SeasonInput is the season multiplier in force at snapshot time.
type SeasonInput struct {
	ID              uint
	Name            string
	BonusMultiplier decimal.Decimal
}

// Snapshot holds every input the block needs, all read at TakenAt.
type Snapshot struct {
	TakenAt      time.Time
	Participants []ParticipantState
	Season       *SeasonInput
}

// TakeSnapshot reads participants with positive capacity, their recent
// boosts and the active season through tx. On postgres the participant rows
// are share-locked so capacity cannot change before the transaction commits.
func TakeSnapshot(ctx context.Context, tx *gorm.DB, at time.Time, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tx = tx.WithContext(ctx)

	participantQuery := tx.Model(&models.Participant{}).Where("capacity > ?", 0).Order("id")
	if tx.Dialector.Name() == "postgres" {
		participantQuery = participantQuery.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var participants []models.Participant
	if err := participantQuery.Find(&participants).Error; err != nil {
		return nil, storeErr("load participants", err)
	}

	// SQLite compares timestamps as text in the zone they were written in, so
	// the store only prunes boosts that ended well before at. The resolver
	// makes the exact expiry cut.
	var boosts []models.ActiveBoost
	err := tx.Model(&models.ActiveBoost{}).
		Where("expires_at > ?", at.UTC().Add(-boostExpirySlack)).
		Where("participant_id IN (?)", tx.Model(&models.Participant{}).Select("id").Where("capacity > ?", 0)).
		Order("participant_id, id").
		Find(&boosts).Error
	if err != nil {
		return nil, storeErr("load boosts", err)
	}
	byParticipant := make(map[string][]BoostInput, len(participants))
	for _, b := range boosts {
		byParticipant[b.ParticipantID] = append(byParticipant[b.ParticipantID], BoostInput{
			Kind:      b.Kind,
			Percent:   b.BoostPercent,
			ExpiresAt: b.ExpiresAt,
		})
	}

	snap := &Snapshot{TakenAt: at, Participants: make([]ParticipantState, 0, len(participants))}
	for _, p := range participants {
		snap.Participants = append(snap.Participants, ParticipantState{
			ID:                    p.ID,
			Capacity:              p.Capacity,
			PermanentBonusPercent: p.PermanentBonusPercent,
			Boosts:                byParticipant[p.ID],
		})
	}

	season, err := activeSeason(tx, at, logger)
	if err != nil {
		return nil, err
	}
	snap.Season = season
	return snap, nil
}

func activeSeason(tx *gorm.DB, at time.Time, logger *slog.Logger) (*SeasonInput, error) {
	var rows []models.SeasonMultiplier
	if err := tx.Where("is_active = ?", true).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, storeErr("load season", err)
	}
	inWindow := rows[:0]
	for _, row := range rows {
		if row.StartsAt != nil && at.Before(*row.StartsAt) {
			continue
		}
		if row.EndsAt != nil && !at.Before(*row.EndsAt) {
			continue
		}
		inWindow = append(inWindow, row)
	}
	if len(inWindow) == 0 {
		return nil, nil
	}
	chosen := inWindow[0]
	if len(inWindow) > 1 {
		logger.Warn("multiple active seasons, using newest",
			slog.Uint64("season_id", uint64(chosen.ID)),
			slog.Int("active", len(inWindow)))
	}
	if chosen.BonusMultiplier.LessThan(decimal.NewFromInt(1)) {
		logger.Warn("ignoring season with multiplier below 1",
			slog.Uint64("season_id", uint64(chosen.ID)),
			slog.String("multiplier", chosen.BonusMultiplier.String()))
		return nil, nil
	}
	return &SeasonInput{ID: chosen.ID, Name: chosen.Name, BonusMultiplier: chosen.BonusMultiplier}, nil
}
