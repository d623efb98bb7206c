package engine

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired results are evicted when no
// interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically evicts tasks whose results have outlived their
// expiration. Sweeps never overlap: ticks run on a single goroutine and manual
// calls to Sweep serialize on mu.
type Sweeper struct {
	interval time.Duration
	evict    func(now time.Time) int
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSweeper(interval time.Duration, evict func(now time.Time) int, now func() time.Time, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		interval: interval,
		evict:    evict,
		now:      now,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Interval returns the time between sweeps.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

func (s *Sweeper) start() {
	go s.loop()
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one eviction pass immediately and returns the number of evicted tasks.
func (s *Sweeper) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	n := s.evict(s.now())
	sweepDuration.Observe(time.Since(start).Seconds())

	if n > 0 {
		s.logger.Debug("evicted expired tasks", "evicted", n)
	}
	return n
}

// Stop halts the sweep loop and waits for an in-progress sweep to return.
// It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
