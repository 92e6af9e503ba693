package emission

import "errors"

// Engine applies the optional supply cap on top of a schedule.
type Engine struct {
	schedule  *Schedule
	maxSupply int64
}

// NewEngine constructs an engine. A zero maxSupply disables the cap.
func NewEngine(schedule *Schedule, maxSupply int64) (*Engine, error) {
	if schedule == nil {
		return nil, errors.New("emission: schedule required")
	}
	if maxSupply < 0 {
		return nil, errors.New("emission: max supply cannot be negative")
	}
	return &Engine{schedule: schedule, maxSupply: maxSupply}, nil
}

// RewardForBlock returns the base pool for the block given everything minted
// so far. remaining is what the cap still allows after the pool, or -1 when
// the supply is uncapped. An exhausted supply yields an empty pool.
func (e *Engine) RewardForBlock(number uint64, mintedSoFar int64) (reward, remaining int64, err error) {
	if mintedSoFar < 0 {
		return 0, 0, errors.New("emission: minted total cannot be negative")
	}
	reward = e.schedule.AmountForBlock(number)
	if e.maxSupply == 0 {
		return reward, -1, nil
	}
	if mintedSoFar >= e.maxSupply {
		return 0, 0, nil
	}
	left := e.maxSupply - mintedSoFar
	if reward > left {
		reward = left
	}
	return reward, left - reward, nil
}
