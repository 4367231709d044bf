// Package expiry removes observations older than a time-to-live.
package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/pkg/utils"
)

// DefaultTTL is how long an observation is kept.
const DefaultTTL = 48 * time.Hour

// Engine is the subset of engine.Engine the sweeper needs.
type Engine interface {
	Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

// Sweeper deletes expired observations on demand or on its own timer.
type Sweeper struct {
	engine Engine
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a sweeper with the given ttl. Zero ttl means DefaultTTL.
func New(eng Engine, ttl time.Duration, logger *zap.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sweeper{engine: eng, ttl: ttl, now: time.Now, logger: utils.OrNop(logger)}
}

// TTL returns the configured time-to-live.
func (s *Sweeper) TTL() time.Duration {
	return s.ttl
}

// Sweep removes every observation with now - timestamp > ttl and returns how many.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	return s.engine.Sweep(ctx, now, ttl)
}

// SweepNow sweeps with the current time and the configured ttl.
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return s.Sweep(ctx, s.now(), s.ttl)
}

// Start sweeps every interval until ctx is cancelled or Stop is called. A non-positive
// interval disables the timer.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, interval, s.done)
	s.logger.Info("expiry sweeper started", zap.Duration("interval", interval), zap.Duration("ttl", s.ttl))
}

func (s *Sweeper) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepNow(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop stops the timer and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
