package emission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const basisPoints uint32 = 10_000

// Schedule maps block numbers to the base reward minted for that block.
type Schedule struct {
	entries []entry
}

type entry struct {
	startBlock uint64
	amount     int64
	decay      *decay
}

type decay struct {
	ratioBps uint32
	duration uint64
	floor    int64
}

type fileSchedule struct {
	Entries []fileEntry `json:"entries" toml:"entries"`
}

type fileEntry struct {
	StartBlock uint64     `json:"startBlock" toml:"startBlock"`
	Amount     int64      `json:"amount" toml:"amount"`
	Decay      *fileDecay `json:"decay" toml:"decay"`
}

type fileDecay struct {
	Mode     string `json:"mode" toml:"mode"`
	RatioBps uint32 `json:"ratioBps" toml:"ratioBps"`
	Duration uint64 `json:"durationBlocks" toml:"durationBlocks"`
	Floor    int64  `json:"floor" toml:"floor"`
}

// Fixed returns a schedule that mints the same reward for every block.
func Fixed(amount int64) (*Schedule, error) {
	if amount < 0 {
		return nil, errors.New("emission: block reward cannot be negative")
	}
	return &Schedule{entries: []entry{{startBlock: 1, amount: amount}}}, nil
}

// LoadSchedule reads a TOML or JSON schedule file.
func LoadSchedule(path string) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("emission: schedule path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emission: read schedule: %w", err)
	}
	var parsed fileSchedule
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("emission: decode schedule json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.Decode(string(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("emission: decode schedule toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("emission: unknown schedule fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("emission: unsupported schedule format %q", ext)
	}
	return build(parsed)
}

func build(parsed fileSchedule) (*Schedule, error) {
	if len(parsed.Entries) == 0 {
		return nil, errors.New("emission: schedule requires at least one entry")
	}
	entries := make([]entry, len(parsed.Entries))
	for i, raw := range parsed.Entries {
		if raw.StartBlock == 0 {
			return nil, fmt.Errorf("emission: entry %d startBlock must be greater than zero", i)
		}
		if raw.Amount < 0 {
			return nil, fmt.Errorf("emission: entry %d amount cannot be negative", i)
		}
		d, err := parseDecay(raw.Decay, i)
		if err != nil {
			return nil, err
		}
		entries[i] = entry{startBlock: raw.StartBlock, amount: raw.Amount, decay: d}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].startBlock < entries[j].startBlock })
	for i := 1; i < len(entries); i++ {
		if entries[i].startBlock == entries[i-1].startBlock {
			return nil, fmt.Errorf("emission: duplicate startBlock %d", entries[i].startBlock)
		}
	}
	return &Schedule{entries: entries}, nil
}

func parseDecay(spec *fileDecay, index int) (*decay, error) {
	if spec == nil {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(spec.Mode)) {
	case "", "none":
		return nil, nil
	case "geometric":
	default:
		return nil, fmt.Errorf("emission: entry %d decay mode %q unsupported", index, spec.Mode)
	}
	if spec.RatioBps == 0 || spec.RatioBps > basisPoints {
		return nil, fmt.Errorf("emission: entry %d decay ratioBps must be within 1..%d", index, basisPoints)
	}
	if spec.Floor < 0 {
		return nil, fmt.Errorf("emission: entry %d decay floor cannot be negative", index)
	}
	return &decay{ratioBps: spec.RatioBps, duration: spec.Duration, floor: spec.Floor}, nil
}

// AmountForBlock returns the scheduled base reward before supply caps.
func (s *Schedule) AmountForBlock(number uint64) int64 {
	if s == nil || number == 0 {
		return 0
	}
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].startBlock > number })
	if idx == 0 {
		return 0
	}
	e := s.entries[idx-1]
	if e.decay == nil || number == e.startBlock {
		return e.amount
	}
	steps := number - e.startBlock
	if e.decay.duration > 0 && steps > e.decay.duration {
		steps = e.decay.duration
	}
	return geometric(e.amount, e.decay.ratioBps, steps, e.decay.floor)
}

// geometric keeps ratioBps/10000 of the previous block's amount per step,
// truncating each time, and never drops below floor. The amount strictly
// shrinks every step until it reaches floor or zero, so the loop is bounded
// by the amount rather than by steps.
func geometric(base int64, ratioBps uint32, steps uint64, floor int64) int64 {
	value := base
	if ratioBps < basisPoints {
		bp, ratio := int64(basisPoints), int64(ratioBps)
		for ; steps > 0 && value > floor && value > 0; steps-- {
			value = (value/bp)*ratio + (value%bp)*ratio/bp
		}
	}
	if value < floor {
		value = floor
	}
	return value
}
