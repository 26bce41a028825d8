package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/firdavs625/groupquiz/internal/telemetry"
)

const (
	DefaultSweepInterval = 30 * time.Minute
	DefaultRetention     = 2 * time.Hour
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type SweeperConfig struct {
	Store Store
	// Interval between sweeps.
	Interval time.Duration
	// Retention is how long a finished session stays readable after it ended.
	Retention time.Duration
	// OnDeleted is called for every swept session id.
	OnDeleted     func(ctx context.Context, id string)
	Now           func() time.Time
	NewTickerFunc func(d time.Duration) Ticker
}

// Sweeper periodically removes finished sessions past the retention window.
// Each removal goes through the store's critical section, so it never races a
// write to the same session.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	onDeleted func(ctx context.Context, id string)
	now       func() time.Time
	newTicker func(d time.Duration) Ticker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewSweeper(c SweeperConfig) *Sweeper {
	s := &Sweeper{
		store:     c.Store,
		interval:  c.Interval,
		retention: c.Retention,
		onDeleted: c.OnDeleted,
		now:       c.Now,
		newTicker: c.NewTickerFunc,
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTicker == nil {
		s.newTicker = newTimeTicker
	}
	if s.onDeleted == nil {
		s.onDeleted = func(context.Context, string) {}
	}

	return s
}

// Start runs the sweep loop in the background until Stop is called. It is a
// no-op after Stop or a previous Start.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	ctx := s.ctx
	t := s.newTicker(s.interval)
	go func() {
		defer close(s.done)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				if _, err := s.Sweep(ctx); err != nil {
					slog.ErrorContext(ctx, "sweeper: sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish. It may be
// called concurrently with Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
}

// Sweep runs one pass and returns the number of removed sessions.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.Sweep(ctx, s.now().Add(-s.retention))
	for _, id := range ids {
		s.onDeleted(ctx, id)
	}

	telemetry.SessionsSwept.Add(float64(len(ids)))
	if len(ids) > 0 {
		slog.InfoContext(ctx, "sweeper: removed finished sessions", "count", len(ids))
	}

	return len(ids), err
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }
