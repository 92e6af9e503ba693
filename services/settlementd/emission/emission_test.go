package emission

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFixedSchedule(t *testing.T) {
	schedule, err := Fixed(100_000)
	if err != nil {
		t.Fatalf("fixed: %v", err)
	}
	for _, n := range []uint64{1, 2, 500} {
		if got := schedule.AmountForBlock(n); got != 100_000 {
			t.Fatalf("block %d: expected 100000 got %d", n, got)
		}
	}
	if got := schedule.AmountForBlock(0); got != 0 {
		t.Fatalf("block 0 must mint nothing, got %d", got)
	}
	if _, err := Fixed(-1); err == nil {
		t.Fatalf("expected negative reward to be rejected")
	}
}

func TestLoadScheduleTOMLWithDecay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.toml")
	contents := `
[[entries]]
startBlock = 1
amount = 1000

[entries.decay]
mode = "geometric"
ratioBps = 5000
durationBlocks = 3
floor = 200

[[entries]]
startBlock = 10
amount = 50
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	schedule, err := LoadSchedule(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := map[uint64]int64{
		1:  1000,
		2:  500,
		3:  250,
		4:  200, // 125 floored
		9:  200, // decay capped at three steps, then floored
		10: 50,
		11: 50,
	}
	for block, want := range cases {
		if got := schedule.AmountForBlock(block); got != want {
			t.Fatalf("block %d: expected %d got %d", block, want, got)
		}
	}
}

func TestLoadScheduleJSONRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(path, []byte(`{"entries":[{"startBlock":1,"amount":5,"bogus":true}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSchedule(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadScheduleRejectsDuplicateStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(path, []byte(`{"entries":[{"startBlock":1,"amount":5},{"startBlock":1,"amount":6}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSchedule(path); err == nil {
		t.Fatalf("expected duplicate startBlock error")
	}
}

func TestEngineSupplyCap(t *testing.T) {
	schedule, _ := Fixed(100)
	engine, err := NewEngine(schedule, 250)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	reward, remaining, err := engine.RewardForBlock(1, 0)
	if err != nil || reward != 100 || remaining != 150 {
		t.Fatalf("block 1: reward=%d remaining=%d err=%v", reward, remaining, err)
	}
	reward, remaining, err = engine.RewardForBlock(3, 200)
	if err != nil || reward != 50 || remaining != 0 {
		t.Fatalf("block 3: reward=%d remaining=%d err=%v", reward, remaining, err)
	}
	reward, _, err = engine.RewardForBlock(4, 250)
	if err != nil || reward != 0 {
		t.Fatalf("block 4: reward=%d err=%v", reward, err)
	}
	reward, remaining, err = engine.RewardForBlock(5, 300)
	if err != nil || reward != 0 || remaining != 0 {
		t.Fatalf("overminted supply: reward=%d remaining=%d err=%v", reward, remaining, err)
	}
}

func TestGeometricTruncatesEachStep(t *testing.T) {
	cases := []struct {
		steps uint64
		want  int64
	}{
		{0, 1000},
		{1, 900},
		{2, 810},
		{3, 729},
		{4, 656},
	}
	for _, tc := range cases {
		if got := geometric(1000, 9000, tc.steps, 0); got != tc.want {
			t.Fatalf("steps %d: expected %d got %d", tc.steps, tc.want, got)
		}
	}
	if got := geometric(1000, basisPoints, 1<<40, 0); got != 1000 {
		t.Fatalf("full ratio must not decay, got %d", got)
	}
}

func TestGeometricLongHorizonIsBounded(t *testing.T) {
	const fiveYearsOfBlocks = 5 * 365 * 288
	start := time.Now()
	if got := geometric(1_000_000_000, 9999, fiveYearsOfBlocks, 25_000); got != 25_000 {
		t.Fatalf("expected decay to settle on the floor, got %d", got)
	}
	if got := geometric(math.MaxInt64, 9999, math.MaxUint64, 0); got != 0 {
		t.Fatalf("expected decay to reach zero, got %d", got)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("decay took %s", took)
	}
}

func TestEngineUncapped(t *testing.T) {
	schedule, _ := Fixed(100)
	engine, _ := NewEngine(schedule, 0)
	reward, remaining, err := engine.RewardForBlock(1, 1_000_000)
	if err != nil || reward != 100 || remaining != -1 {
		t.Fatalf("reward=%d remaining=%d err=%v", reward, remaining, err)
	}
}
