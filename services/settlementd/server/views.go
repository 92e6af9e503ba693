package server

import (
	"time"

	"idlechain/services/settlementd/exports"
	"idlechain/services/settlementd/models"
	"idlechain/services/settlementd/query"
)

type blockView struct {
	Number            uint64 `json:"number"`
	Hash              string `json:"hash"`
	ParentHash        string `json:"parentHash"`
	TotalReward       int64  `json:"totalReward"`
	DistributedReward int64  `json:"distributedReward"`
	BonusMinted       int64  `json:"bonusMinted"`
	Remainder         int64  `json:"remainder"`
	TotalCapacity     int64  `json:"totalCapacity"`
	ParticipantCount  int    `json:"participantCount"`
	ExcludedCount     int    `json:"excludedCount"`
	SettledAt         string `json:"settledAt"`
}

func newBlockView(b models.Block) blockView {
	return blockView{
		Number:            b.Number,
		Hash:              b.Hash,
		ParentHash:        b.ParentHash,
		TotalReward:       b.TotalReward,
		DistributedReward: b.DistributedReward,
		BonusMinted:       b.BonusMinted,
		Remainder:         b.Remainder,
		TotalCapacity:     b.TotalCapacity,
		ParticipantCount:  b.ParticipantCount,
		ExcludedCount:     b.ExcludedCount,
		SettledAt:         b.SettledAt.UTC().Format(time.RFC3339),
	}
}

type blockListResponse struct {
	Blocks     []blockView `json:"blocks"`
	NextBefore uint64      `json:"nextBefore,omitempty"`
}

type blockRewardsResponse struct {
	Block   uint64               `json:"block"`
	Rewards []exports.RecordView `json:"rewards"`
}

type rewardHistoryResponse struct {
	ParticipantID string               `json:"participantId"`
	Rewards       []exports.RecordView `json:"rewards"`
	NextBefore    uint64               `json:"nextBefore,omitempty"`
}

type summaryView struct {
	ParticipantID  string              `json:"participantId"`
	Balance        int64               `json:"balance"`
	Capacity       int64               `json:"capacity"`
	TotalEarned    int64               `json:"totalEarned"`
	BlocksRewarded int64               `json:"blocksRewarded"`
	LastReward     *exports.RecordView `json:"lastReward,omitempty"`
}

func newSummaryView(s *query.Summary) summaryView {
	view := summaryView{
		ParticipantID:  s.ParticipantID,
		Balance:        s.Balance,
		Capacity:       s.Capacity,
		TotalEarned:    s.TotalEarned,
		BlocksRewarded: s.BlocksRewarded,
	}
	if s.LastReward != nil {
		last := exports.NewRecordView(*s.LastReward)
		view.LastReward = &last
	}
	return view
}
