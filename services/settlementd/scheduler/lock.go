package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"idlechain/services/settlementd/models"
)

// Lock guards the settlement pipeline. TryAcquire never blocks waiting for a
// holder; it reports false when the lock is busy.
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ErrNotHeld is returned when releasing a lock that is not held.
var ErrNotHeld = errors.New("scheduler: lock not held")

// LocalLock is an in-process semaphore. Each scheduler owns its own.
type LocalLock struct {
	slot chan struct{}
}

// NewLocalLock returns an unlocked semaphore.
func NewLocalLock() *LocalLock {
	return &LocalLock{slot: make(chan struct{}, 1)}
}

func (l *LocalLock) TryAcquire(context.Context) (bool, error) {
	select {
	case l.slot <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *LocalLock) Release(context.Context) error {
	select {
	case <-l.slot:
		return nil
	default:
		return ErrNotHeld
	}
}

// LeaseLock claims a row in settlement_leases so that only one process
// settles at a time. A lease left behind by a crashed holder is reclaimable
// once it expires.
type LeaseLock struct {
	db     *gorm.DB
	name   string
	holder string
	ttl    time.Duration
	now    func() time.Time
}

// LeaseOption customises a LeaseLock.
type LeaseOption func(*LeaseLock)

// WithLeaseClock overrides the lease clock.
func WithLeaseClock(clock func() time.Time) LeaseOption {
	return func(l *LeaseLock) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithHolder sets the holder id instead of a random one.
func WithHolder(holder string) LeaseOption {
	return func(l *LeaseLock) {
		if strings.TrimSpace(holder) != "" {
			l.holder = holder
		}
	}
}

// NewLeaseLock builds a lease lock for name. ttl must outlive the longest
// settlement.
func NewLeaseLock(db *gorm.DB, name string, ttl time.Duration, opts ...LeaseOption) (*LeaseLock, error) {
	if db == nil {
		return nil, errors.New("scheduler: lease database required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("scheduler: lease name required")
	}
	if ttl <= 0 {
		return nil, errors.New("scheduler: lease ttl must be positive")
	}
	l := &LeaseLock{
		db:     db,
		name:   name,
		holder: uuid.NewString(),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Holder returns the id written into the lease row.
func (l *LeaseLock) Holder() string { return l.holder }

func (l *LeaseLock) TryAcquire(ctx context.Context) (bool, error) {
	db := l.db.WithContext(ctx)
	seed := models.SettlementLease{Name: l.name}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return false, fmt.Errorf("scheduler: seed lease %s: %w", l.name, err)
	}
	now := l.now()
	res := db.Model(&models.SettlementLease{}).
		Where("name = ? AND (holder = '' OR holder = ? OR expires_at < ?)", l.name, l.holder, now).
		Updates(map[string]any{"holder": l.holder, "expires_at": now.Add(l.ttl)})
	if res.Error != nil {
		return false, fmt.Errorf("scheduler: claim lease %s: %w", l.name, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *LeaseLock) Release(ctx context.Context) error {
	res := l.db.WithContext(ctx).Model(&models.SettlementLease{}).
		Where("name = ? AND holder = ?", l.name, l.holder).
		Updates(map[string]any{"holder": "", "expires_at": l.now()})
	if res.Error != nil {
		return fmt.Errorf("scheduler: release lease %s: %w", l.name, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotHeld
	}
	return nil
}

type chain []Lock

// Chain acquires locks in order and releases them in reverse. If any lock is
// busy or fails, the ones already taken are released before returning.
func Chain(locks ...Lock) Lock {
	out := make(chain, 0, len(locks))
	for _, l := range locks {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (c chain) TryAcquire(ctx context.Context) (bool, error) {
	for i, l := range c {
		ok, err := l.TryAcquire(ctx)
		if err != nil || !ok {
			releaseErr := c[:i].Release(ctx)
			return false, errors.Join(err, releaseErr)
		}
	}
	return true, nil
}

func (c chain) Release(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
