package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// AllocationInput is one resolved participant entering the split.
type AllocationInput struct {
	ParticipantID string
	Capacity      int64
	Multiplier    decimal.Decimal
}

// Share is one participant's computed reward.
type Share struct {
	ParticipantID string
	Capacity      int64
	Multiplier    decimal.Decimal
	BaseShare     int64
	Reward        int64
	SharePercent  decimal.Decimal
}

// Allocation is the full outcome of splitting one block reward.
type Allocation struct {
	TotalReward     int64
	TotalCapacity   int64
	BaseDistributed int64
	Distributed     int64
	BonusMinted     int64
	Remainder       int64
	Shares          []Share
	// Excluded lists participants dropped because their boosted reward does
	// not fit the ledger. They are left out of TotalCapacity.
	Excluded []*ResolutionError
}

// Allocate splits totalReward proportionally to capacity and then applies
// each participant's multiplier to its base share. Both steps truncate. The
// remainder of the base split is reported and never redistributed. Shares are
// returned ordered by participant id.
func Allocate(totalReward int64, inputs []AllocationInput) (*Allocation, error) {
	if totalReward < 0 {
		return nil, errors.New("settlement: total reward cannot be negative")
	}
	ordered := make([]AllocationInput, len(inputs))
	copy(ordered, inputs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ParticipantID < ordered[j].ParticipantID })

	for i, in := range ordered {
		if in.ParticipantID == "" {
			return nil, errors.New("settlement: participant id required")
		}
		if i > 0 && ordered[i-1].ParticipantID == in.ParticipantID {
			return nil, fmt.Errorf("settlement: duplicate participant %s", in.ParticipantID)
		}
		if in.Capacity <= 0 {
			return nil, fmt.Errorf("settlement: participant %s capacity must be positive", in.ParticipantID)
		}
		if in.Multiplier.LessThan(one) {
			return nil, fmt.Errorf("settlement: participant %s multiplier %s below 1", in.ParticipantID, in.Multiplier)
		}
	}

	var excluded []*ResolutionError
	for {
		alloc, overflow, err := split(totalReward, ordered)
		if err != nil {
			return nil, err
		}
		if overflow < 0 {
			alloc.Excluded = excluded
			return alloc, nil
		}
		excluded = append(excluded, &ResolutionError{
			ParticipantID: ordered[overflow].ParticipantID,
			Reason:        "boosted reward overflows with multiplier " + ordered[overflow].Multiplier.String(),
		})
		ordered = append(ordered[:overflow], ordered[overflow+1:]...)
	}
}

// split computes one allocation over ordered. When the boosted rewards do not
// fit in int64 it returns the index of the largest reward instead.
func split(totalReward int64, ordered []AllocationInput) (*Allocation, int, error) {
	total := new(big.Int)
	for _, in := range ordered {
		total.Add(total, big.NewInt(in.Capacity))
	}
	if !total.IsInt64() {
		return nil, -1, errors.New("settlement: total capacity overflows")
	}

	alloc := &Allocation{
		TotalReward:   totalReward,
		TotalCapacity: total.Int64(),
		Shares:        make([]Share, 0, len(ordered)),
	}
	if alloc.TotalCapacity == 0 {
		return alloc, -1, nil
	}

	pool := big.NewInt(totalReward)
	totalDec := decimal.NewFromInt(alloc.TotalCapacity)
	distributed := new(big.Int)
	largest, largestAt := new(big.Int), -1
	for i, in := range ordered {
		numerator := new(big.Int).Mul(pool, big.NewInt(in.Capacity))
		base := numerator.Quo(numerator, total).Int64()
		reward := decimal.NewFromInt(base).Mul(in.Multiplier).Floor().BigInt()
		distributed.Add(distributed, reward)
		if largestAt < 0 || reward.Cmp(largest) > 0 {
			largest, largestAt = reward, i
		}
		alloc.Shares = append(alloc.Shares, Share{
			ParticipantID: in.ParticipantID,
			Capacity:      in.Capacity,
			Multiplier:    in.Multiplier,
			BaseShare:     base,
			Reward:        reward.Int64(),
			SharePercent:  decimal.NewFromInt(in.Capacity).Mul(hundred).DivRound(totalDec, 6),
		})
		alloc.BaseDistributed += base
	}
	if !distributed.IsInt64() {
		return nil, largestAt, nil
	}
	alloc.Distributed = distributed.Int64()
	alloc.Remainder = totalReward - alloc.BaseDistributed
	alloc.BonusMinted = alloc.Distributed - alloc.BaseDistributed
	return alloc, -1, nil
}

// CapBonus scales every participant's bonus down proportionally so that
// BonusMinted does not exceed limit. Base shares are untouched. It reports
// whether anything was clipped.
func (a *Allocation) CapBonus(limit int64) bool {
	if a == nil || limit < 0 || a.BonusMinted <= limit {
		return false
	}
	bonusTotal := big.NewInt(a.BonusMinted)
	allowed := big.NewInt(limit)
	a.Distributed, a.BonusMinted = 0, 0
	for i := range a.Shares {
		share := &a.Shares[i]
		bonus := new(big.Int).Mul(big.NewInt(share.Reward-share.BaseShare), allowed)
		share.Reward = share.BaseShare + bonus.Quo(bonus, bonusTotal).Int64()
		a.Distributed += share.Reward
		a.BonusMinted += share.Reward - share.BaseShare
	}
	return true
}
