package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"idlechain/observability"
	"idlechain/services/settlementd/settlement"
)

const defaultInterval = 5 * time.Minute

// TickOutcome labels the result of a single tick.
type TickOutcome string

const (
	TickSettled        TickOutcome = "settled"
	TickAlreadySettled TickOutcome = "already_settled"
	TickSkipped        TickOutcome = "skipped"
	TickFailed         TickOutcome = "failed"
)

// Pipeline settles one block.
type Pipeline interface {
	Settle(ctx context.Context) (*settlement.Result, error)
}

// Config configures the block scheduler.
type Config struct {
	Pipeline      Pipeline
	Interval      time.Duration
	SettleOnStart bool
	// Lock is acquired after the scheduler's own in-process lock, typically a
	// LeaseLock shared with other processes.
	Lock    Lock
	Logger  *slog.Logger
	Metrics *observability.SettlementMetrics
}

// Scheduler settles a block on a fixed cadence. Ticks never overlap: a tick
// that finds the lock busy is skipped rather than queued.
type Scheduler struct {
	pipeline      Pipeline
	interval      time.Duration
	settleOnStart bool
	lock          Lock
	logger        *slog.Logger
	metrics       *observability.SettlementMetrics
}

// NewScheduler constructs a scheduler with its own in-process lock.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("scheduler: pipeline required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pipeline:      cfg.Pipeline,
		interval:      interval,
		settleOnStart: cfg.SettleOnStart,
		lock:          Chain(NewLocalLock(), cfg.Lock),
		logger:        logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Start ticks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.logger.Info("settlement scheduler started", slog.Duration("interval", s.interval))
	if s.settleOnStart {
		_, _ = s.Tick(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement scheduler stopped")
			return
		case <-ticker.C:
			_, _ = s.Tick(ctx)
		}
	}
}

// Tick attempts one settlement. The lock is released on every path,
// including a panic inside the pipeline.
func (s *Scheduler) Tick(ctx context.Context) (outcome TickOutcome, err error) {
	defer func() {
		s.metrics.RecordTick(string(outcome))
		if err != nil {
			s.logger.Error("settlement tick failed", slog.Any("error", err))
		}
	}()

	acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		return TickFailed, fmt.Errorf("scheduler: acquire lock: %w", err)
	}
	if !acquired {
		s.logger.Info("settlement skipped, another settlement holds the lock")
		return TickSkipped, nil
	}
	defer func() {
		if releaseErr := s.lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Error("release settlement lock", slog.Any("error", releaseErr))
		}
	}()
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (outcome TickOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = TickFailed
			err = fmt.Errorf("scheduler: settlement panic: %v", r)
		}
	}()
	res, err := s.pipeline.Settle(ctx)
	if err != nil {
		return TickFailed, err
	}
	if res != nil && res.Outcome == settlement.OutcomeAlreadySettled {
		return TickAlreadySettled, nil
	}
	return TickSettled, nil
}
