package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"idlechain/observability"
	"idlechain/services/settlementd/emission"
	"idlechain/services/settlementd/models"
)

const defaultTimeout = 30 * time.Second

// Outcome labels how a settlement attempt ended.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
)

// Result describes a completed settlement attempt.
type Result struct {
	Outcome  Outcome
	Block    *models.Block
	Excluded []*ResolutionError
}

// Notifier is informed after a block commits. Failures are logged only.
type Notifier interface {
	BlockSettled(ctx context.Context, block models.Block) error
}

// Settler runs snapshot, resolution, allocation and commit for the next
// block inside one store transaction.
type Settler struct {
	db        *gorm.DB
	emission  *emission.Engine
	committer *Committer
	now       func() time.Time
	logger    *slog.Logger
	metrics   *observability.SettlementMetrics
	notifier  Notifier
	timeout   time.Duration
	tracer    trace.Tracer
}

// Option customises a Settler.
type Option func(*Settler)

// WithClock overrides the settlement timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Settler) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Settler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.SettlementMetrics) Option {
	return func(s *Settler) { s.metrics = m }
}

// WithNotifier registers a post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Settler) { s.notifier = n }
}

// WithTimeout bounds the settlement transaction.
func WithTimeout(d time.Duration) Option {
	return func(s *Settler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSettler constructs a settler minting according to engine.
func NewSettler(db *gorm.DB, engine *emission.Engine, opts ...Option) (*Settler, error) {
	if db == nil {
		return nil, errors.New("settlement: database required")
	}
	if engine == nil {
		return nil, errors.New("settlement: emission engine required")
	}
	s := &Settler{
		db:       db,
		emission: engine,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		metrics:  observability.Settlement(),
		timeout:  defaultTimeout,
		tracer:   otel.Tracer("settlementd/settlement"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.committer = NewCommitter(db, s.logger)
	return s, nil
}

// Settle settles the next block. A concurrent or repeated settlement of the
// same number yields OutcomeAlreadySettled with a nil error.
func (s *Settler) Settle(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "settlement.settle")
	defer span.End()

	settledAt := s.now().UTC()
	started := time.Now()

	var (
		block    *models.Block
		excluded []*ResolutionError
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, minted, err := chainHead(tx)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("settlement.block", int64(number)))

		snap, err := TakeSnapshot(ctx, tx, settledAt, s.logger)
		if err != nil {
			return err
		}
		resolver := NewResolver(snap.TakenAt, snap.Season)

		inputs := make([]AllocationInput, 0, len(snap.Participants))
		for _, p := range snap.Participants {
			multiplier, err := resolver.Resolve(p)
			if err != nil {
				var resErr *ResolutionError
				if errors.As(err, &resErr) {
					excluded = append(excluded, s.exclude(number, resErr))
					continue
				}
				return err
			}
			inputs = append(inputs, AllocationInput{ParticipantID: p.ID, Capacity: p.Capacity, Multiplier: multiplier})
		}

		reward, remaining, err := s.emission.RewardForBlock(number, minted)
		if err != nil {
			return fmt.Errorf("settlement: block %d reward: %w", number, err)
		}
		alloc, err := Allocate(reward, inputs)
		if err != nil {
			return err
		}
		for _, resErr := range alloc.Excluded {
			excluded = append(excluded, s.exclude(number, resErr))
		}
		if remaining >= 0 {
			wanted := alloc.BonusMinted
			if alloc.CapBonus(remaining) {
				s.logger.Warn("bonus clipped to remaining supply",
					slog.Uint64("block", number),
					slog.Int64("bonus_wanted", wanted),
					slog.Int64("bonus_minted", alloc.BonusMinted))
			}
		}
		block, err = s.committer.CommitTx(ctx, tx, CommitRequest{
			Number:        number,
			SettledAt:     settledAt,
			Allocation:    alloc,
			ExcludedCount: len(excluded),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			s.logger.Info("block already settled", slog.String("reason", err.Error()))
			return &Result{Outcome: OutcomeAlreadySettled}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.ObserveBlock(block.Number, block.ParticipantCount, block.DistributedReward,
		block.BonusMinted, block.Remainder, block.ExcludedCount, time.Since(started))
	s.logger.Info("block settled",
		slog.Uint64("number", block.Number),
		slog.String("hash", block.Hash),
		slog.Int("participants", block.ParticipantCount),
		slog.Int("excluded", block.ExcludedCount),
		slog.Int64("total_reward", block.TotalReward),
		slog.Int64("distributed", block.DistributedReward),
		slog.Int64("remainder", block.Remainder))

	if s.notifier != nil {
		if err := s.notifier.BlockSettled(ctx, *block); err != nil {
			s.logger.Warn("block notification failed", slog.Uint64("number", block.Number), slog.Any("error", err))
		}
	}
	return &Result{Outcome: OutcomeSettled, Block: block, Excluded: excluded}, nil
}

func (s *Settler) exclude(number uint64, resErr *ResolutionError) *ResolutionError {
	s.logger.Warn("participant excluded from block",
		slog.Uint64("block", number),
		slog.String("participant_id", resErr.ParticipantID),
		slog.String("reason", resErr.Reason))
	return resErr
}

// chainHead returns the next block number and the reward minted so far.
func chainHead(tx *gorm.DB) (uint64, int64, error) {
	var last int64
	if err := tx.Model(&models.Block{}).Select("COALESCE(MAX(number), 0)").Row().Scan(&last); err != nil {
		return 0, 0, storeErr("read latest block", err)
	}
	var minted int64
	if err := tx.Model(&models.Block{}).Select("CAST(COALESCE(SUM(distributed_reward), 0) AS BIGINT)").Row().Scan(&minted); err != nil {
		return 0, 0, storeErr("read minted supply", err)
	}
	return uint64(last) + 1, minted, nil
}
