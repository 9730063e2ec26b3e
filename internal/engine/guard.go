package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a run is already active.
var ErrAlreadyRunning = errors.New("synchronization already running")

// Lock is a distributed mutex shared by every replica.
type Lock interface {
	// Acquire returns acquired=false without error when another holder owns the lock.
	Acquire(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// Guard is the single-flight coordinator for runs.
type Guard struct {
	active atomic.Bool
	lock   Lock
	logger *zap.Logger
}

// NewGuard builds a Guard. lock may be nil for a single replica.
func NewGuard(lock Lock, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{lock: lock, logger: logger}
}

// Running reports whether this process holds the guard.
func (g *Guard) Running() bool { return g.active.Load() }

// TryStart claims the guard. The returned release is idempotent and must be
// called when the run ends for any reason.
func (g *Guard) TryStart(ctx context.Context) (func(), error) {
	if !g.active.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	var unlock func(context.Context) error
	if g.lock != nil {
		rel, acquired, err := g.lock.Acquire(ctx)
		if err != nil {
			g.active.Store(false)
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			g.active.Store(false)
			return nil, ErrAlreadyRunning
		}
		unlock = rel
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unlock != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := unlock(ctx); err != nil {
					g.logger.Warn("release run lock failed", zap.Error(err))
				}
			}
			g.active.Store(false)
		})
	}, nil
}
