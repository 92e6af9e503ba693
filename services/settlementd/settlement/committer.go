package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"idlechain/services/settlementd/ledger"
	"idlechain/services/settlementd/models"
)

const recordBatchSize = 200

// CommitRequest is everything needed to persist one block.
type CommitRequest struct {
	Number        uint64
	SettledAt     time.Time
	Allocation    *Allocation
	ExcludedCount int
}

// Committer persists a block, its reward records and the balance credits as
// one unit. The unique block number is the idempotency key.
type Committer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewCommitter constructs a committer bound to db.
func NewCommitter(db *gorm.DB, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{db: db, logger: logger}
}

// Commit runs CommitTx in its own transaction. A second commit for the same
// block number returns ErrAlreadySettled and credits nothing.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*models.Block, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("settlement: committer not initialised")
	}
	var block *models.Block
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		block, err = c.CommitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// CommitTx writes the block row first so that a duplicate number fails before
// any record or balance is touched. The caller owns tx and must roll it back
// on error.
func (c *Committer) CommitTx(ctx context.Context, tx *gorm.DB, req CommitRequest) (*models.Block, error) {
	if req.Number == 0 {
		return nil, errors.New("settlement: block number must be positive")
	}
	if req.Allocation == nil {
		return nil, errors.New("settlement: allocation required")
	}
	if req.SettledAt.IsZero() {
		return nil, errors.New("settlement: settled timestamp required")
	}
	tx = tx.WithContext(ctx)
	alloc := req.Allocation
	settledAt := req.SettledAt.UTC()

	parentHash, err := parentHashFor(tx, req.Number)
	if err != nil {
		return nil, err
	}

	records := make([]models.RewardRecord, 0, len(alloc.Shares))
	checksums := make([]string, 0, len(alloc.Shares))
	for _, share := range alloc.Shares {
		sum := RecordChecksum(req.Number, share.ParticipantID, share.Reward)
		checksums = append(checksums, sum)
		records = append(records, models.RewardRecord{
			BlockNumber:         req.Number,
			ParticipantID:       share.ParticipantID,
			ContributedCapacity: share.Capacity,
			EffectiveMultiplier: share.Multiplier,
			BaseShare:           share.BaseShare,
			RewardAmount:        share.Reward,
			SharePercent:        share.SharePercent,
			Checksum:            sum,
			CreatedAt:           settledAt,
		})
	}

	block := &models.Block{
		Number:            req.Number,
		Hash:              BlockHash(parentHash, req.Number, alloc.TotalReward, settledAt, checksums),
		ParentHash:        parentHash,
		TotalReward:       alloc.TotalReward,
		DistributedReward: alloc.Distributed,
		BonusMinted:       alloc.BonusMinted,
		Remainder:         alloc.Remainder,
		TotalCapacity:     alloc.TotalCapacity,
		ParticipantCount:  len(alloc.Shares),
		ExcludedCount:     req.ExcludedCount,
		SettledAt:         settledAt,
	}
	if err := tx.Create(block).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("block %d: %w", req.Number, ErrAlreadySettled)
		}
		return nil, storeErr(fmt.Sprintf("insert block %d", req.Number), err)
	}
	if len(records) > 0 {
		if err := tx.CreateInBatches(&records, recordBatchSize).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("block %d records: %w", req.Number, ErrAlreadySettled)
			}
			return nil, storeErr(fmt.Sprintf("insert records for block %d", req.Number), err)
		}
	}
	for _, share := range alloc.Shares {
		if share.Reward == 0 {
			continue
		}
		if err := ledger.Credit(ctx, tx, share.ParticipantID, share.Reward); err != nil {
			if errors.Is(err, ledger.ErrParticipantNotFound) {
				return nil, fmt.Errorf("settlement: credit block %d: %w", req.Number, err)
			}
			return nil, storeErr(fmt.Sprintf("credit %s", share.ParticipantID), err)
		}
	}
	c.logger.Debug("block committed",
		slog.Uint64("number", block.Number),
		slog.Int("participants", block.ParticipantCount),
		slog.Int64("distributed", block.DistributedReward))
	return block, nil
}

func parentHashFor(tx *gorm.DB, number uint64) (string, error) {
	var parents []models.Block
	err := tx.Where("number < ?", number).Order("number DESC").Limit(1).Find(&parents).Error
	if err != nil {
		return "", storeErr("load parent block", err)
	}
	if len(parents) == 0 {
		return GenesisParentHash, nil
	}
	return parents[0].Hash, nil
}
