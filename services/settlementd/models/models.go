package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BoostKindCapacity identifies boosts that amplify mined rewards. Other kinds
// belong to unrelated game systems and are ignored by settlement.
const BoostKindCapacity = "capacity"

// Participant is the settlement view of a player account. Capacity and the
// permanent bonus are owned by other subsystems; balance is only ever changed
// through relative deltas.
type Participant struct {
	ID                    string          `gorm:"primaryKey;size:64"`
	Capacity              int64           `gorm:"not null;default:0;index"`
	Balance               int64           `gorm:"not null;default:0"`
	PermanentBonusPercent decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ActiveBoost is a time-bounded bonus purchased or earned by a participant.
type ActiveBoost struct {
	ID            uint            `gorm:"primaryKey"`
	ParticipantID string          `gorm:"size:64;index;not null"`
	Kind          string          `gorm:"size:32;not null"`
	BoostPercent  decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	ExpiresAt     time.Time       `gorm:"index;not null"`
	CreatedAt     time.Time
}

// SeasonMultiplier describes a global event bonus. At most one row is expected
// to be active at a time.
type SeasonMultiplier struct {
	ID              uint            `gorm:"primaryKey"`
	Name            string          `gorm:"size:64"`
	IsActive        bool            `gorm:"index;not null;default:false"`
	BonusMultiplier decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	StartsAt        *time.Time
	EndsAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Block is one settled reward event. Rows are immutable once written.
type Block struct {
	ID                uint      `gorm:"primaryKey"`
	Number            uint64    `gorm:"uniqueIndex;not null"`
	Hash              string    `gorm:"size:64;not null"`
	ParentHash        string    `gorm:"size:64;not null"`
	TotalReward       int64     `gorm:"not null"`
	DistributedReward int64     `gorm:"not null"`
	BonusMinted       int64     `gorm:"not null"`
	Remainder         int64     `gorm:"not null"`
	TotalCapacity     int64     `gorm:"not null"`
	ParticipantCount  int       `gorm:"not null"`
	ExcludedCount     int       `gorm:"not null"`
	SettledAt         time.Time `gorm:"index;not null"`
}

// RewardRecord is one participant's share of a block.
type RewardRecord struct {
	ID                  uint            `gorm:"primaryKey"`
	BlockNumber         uint64          `gorm:"uniqueIndex:idx_reward_block_participant;not null"`
	ParticipantID       string          `gorm:"uniqueIndex:idx_reward_block_participant;index;size:64;not null"`
	ContributedCapacity int64           `gorm:"not null"`
	EffectiveMultiplier decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	BaseShare           int64           `gorm:"not null"`
	RewardAmount        int64           `gorm:"not null"`
	SharePercent        decimal.Decimal `gorm:"type:numeric(12,6);not null"`
	Checksum            string          `gorm:"size:64;not null"`
	CreatedAt           time.Time
}

// SettlementLease backs the cross-process settlement lock.
type SettlementLease struct {
	Name      string `gorm:"primaryKey;size:64"`
	Holder    string `gorm:"size:64;not null;default:''"`
	ExpiresAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Participant{},
		&ActiveBoost{},
		&SeasonMultiplier{},
		&Block{},
		&RewardRecord{},
		&SettlementLease{},
	)
}
