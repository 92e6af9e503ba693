package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"idlechain/services/settlementd/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// ErrNotFound is returned when the requested block or participant does not exist.
var ErrNotFound = errors.New("query: not found")

// Page selects a most-recent-first window. Before is an exclusive block
// number cursor; zero starts at the newest block.
type Page struct {
	Limit  int
	Before uint64
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// BlockPage is one page of blocks. NextBefore is zero on the last page.
type BlockPage struct {
	Blocks     []models.Block
	NextBefore uint64
}

// RewardPage is one page of a participant's reward history.
type RewardPage struct {
	Records    []models.RewardRecord
	NextBefore uint64
}

// Summary aggregates a participant's settlement history for dashboards.
type Summary struct {
	ParticipantID  string
	Balance        int64
	Capacity       int64
	TotalEarned    int64
	BlocksRewarded int64
	LastReward     *models.RewardRecord
}

// Service serves read-only views over settled blocks. It never takes locks
// that settlement waits on.
type Service struct {
	db *gorm.DB
}

// New constructs a query service.
func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListBlocks returns blocks newest first.
func (s *Service) ListBlocks(ctx context.Context, page Page) (*BlockPage, error) {
	limit := page.limit()
	q := s.db.WithContext(ctx).Order("number DESC").Limit(limit + 1)
	if page.Before > 0 {
		q = q.Where("number < ?", page.Before)
	}
	var blocks []models.Block
	if err := q.Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("query: list blocks: %w", err)
	}
	out := &BlockPage{Blocks: blocks}
	if len(blocks) > limit {
		out.Blocks = blocks[:limit]
		out.NextBefore = out.Blocks[limit-1].Number
	}
	return out, nil
}

// LatestBlock returns the most recently settled block.
func (s *Service) LatestBlock(ctx context.Context) (*models.Block, error) {
	var blocks []models.Block
	if err := s.db.WithContext(ctx).Order("number DESC").Limit(1).Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("query: latest block: %w", err)
	}
	if len(blocks) == 0 {
		return nil, ErrNotFound
	}
	return &blocks[0], nil
}

// Block returns the block with the given number.
func (s *Service) Block(ctx context.Context, number uint64) (*models.Block, error) {
	var blocks []models.Block
	if err := s.db.WithContext(ctx).Where("number = ?", number).Limit(1).Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("query: block %d: %w", number, err)
	}
	if len(blocks) == 0 {
		return nil, ErrNotFound
	}
	return &blocks[0], nil
}

// BlockRewards returns every record of a block, largest reward first.
func (s *Service) BlockRewards(ctx context.Context, number uint64) ([]models.RewardRecord, error) {
	if _, err := s.Block(ctx, number); err != nil {
		return nil, err
	}
	var records []models.RewardRecord
	err := s.db.WithContext(ctx).
		Where("block_number = ?", number).
		Order("reward_amount DESC, participant_id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query: rewards for block %d: %w", number, err)
	}
	return records, nil
}

// RewardHistory returns a participant's records newest block first.
func (s *Service) RewardHistory(ctx context.Context, participantID string, page Page) (*RewardPage, error) {
	participantID = strings.TrimSpace(participantID)
	if _, err := s.participant(ctx, participantID); err != nil {
		return nil, err
	}
	limit := page.limit()
	q := s.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("block_number DESC").
		Limit(limit + 1)
	if page.Before > 0 {
		q = q.Where("block_number < ?", page.Before)
	}
	var records []models.RewardRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query: reward history %s: %w", participantID, err)
	}
	out := &RewardPage{Records: records}
	if len(records) > limit {
		out.Records = records[:limit]
		out.NextBefore = out.Records[limit-1].BlockNumber
	}
	return out, nil
}

// ParticipantSummary totals a participant's rewards.
func (s *Service) ParticipantSummary(ctx context.Context, participantID string) (*Summary, error) {
	participantID = strings.TrimSpace(participantID)
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{ParticipantID: p.ID, Balance: p.Balance, Capacity: p.Capacity}
	row := s.db.WithContext(ctx).Model(&models.RewardRecord{}).
		Select("CAST(COALESCE(SUM(reward_amount), 0) AS BIGINT), COUNT(*)").
		Where("participant_id = ? AND reward_amount > 0", participantID).
		Row()
	if err := row.Scan(&summary.TotalEarned, &summary.BlocksRewarded); err != nil {
		return nil, fmt.Errorf("query: summary %s: %w", participantID, err)
	}
	var last []models.RewardRecord
	err = s.db.WithContext(ctx).
		Where("participant_id = ? AND reward_amount > 0", participantID).
		Order("block_number DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("query: summary %s: %w", participantID, err)
	}
	if len(last) == 1 {
		summary.LastReward = &last[0]
	}
	return summary, nil
}

func (s *Service) participant(ctx context.Context, id string) (*models.Participant, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var rows []models.Participant
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query: participant %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}
