package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/webtasks/internal/model"
)

var (
	// ErrNilBody is returned when Submit receives a body with no function.
	ErrNilBody = errors.New("work body is nil")

	// ErrClosed is returned when Submit is called after Shutdown.
	ErrClosed = errors.New("registry is shut down")
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	sweepInterval time.Duration
	maxWorkers    int
	recorder      Recorder
	defaults      model.Config
	now           func() time.Time
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSweepInterval sets how often expired results are evicted.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithMaxWorkers bounds the number of bodies executing at once. Tasks waiting
// for a slot stay idle. Zero or negative means no bound.
func WithMaxWorkers(n int) Option {
	return func(o *options) { o.maxWorkers = n }
}

// WithRecorder registers a recorder for terminal task history.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithDefaults sets the configuration used for submissions without one and
// for zero durations of submitted configurations.
func WithDefaults(cfg model.Config) Option {
	return func(o *options) { o.defaults = cfg.WithDefaults(model.DefaultConfig()) }
}

// WithClock overrides the time source used for task timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Registry maps task handles to their controllers. It is the entry point for
// submission, status polling and cancellation, and it owns the expiry sweeper.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	closed      bool

	base     context.Context
	stopBase context.CancelFunc

	sched    *scheduler
	sweeper  *Sweeper
	broker   *ProgressBroker
	defaults model.Config
	logger   *slog.Logger
	now      func() time.Time

	shutdownOnce sync.Once
}

// NewRegistry creates a registry and starts its sweeper. Call Shutdown to
// stop the sweeper and release workers.
func NewRegistry(opts ...Option) *Registry {
	o := options{
		logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		sweepInterval: DefaultSweepInterval,
		defaults:      model.DefaultConfig(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	base, stop := context.WithCancel(context.Background())
	broker := NewProgressBroker()

	r := &Registry{
		controllers: make(map[string]*Controller),
		base:        base,
		stopBase:    stop,
		sched:       newScheduler(o.maxWorkers, broker, o.recorder, o.logger),
		broker:      broker,
		defaults:    o.defaults,
		logger:      o.logger,
		now:         o.now,
	}
	r.sweeper = newSweeper(o.sweepInterval, r.evictExpired, o.now, o.logger)
	r.sweeper.start()

	return r
}

// Broker returns the registry's progress broker for streaming subscriptions.
func (r *Registry) Broker() *ProgressBroker {
	return r.broker
}

// Sweeper returns the registry's expiry sweeper.
func (r *Registry) Sweeper() *Sweeper {
	return r.sweeper
}

// Defaults returns the configuration applied to submissions without one.
func (r *Registry) Defaults() model.Config {
	return r.defaults
}

// Submit registers a new idle task for body and starts executing it
// asynchronously. A nil cfg uses the registry defaults. The returned handle is
// valid immediately; Submit never waits for the body.
func (r *Registry) Submit(body Body, cfg *model.Config) (string, error) {
	if !body.valid() {
		return "", ErrNilBody
	}

	conf := r.defaults
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return "", err
		}
		conf = cfg.WithDefaults(r.defaults)
	}

	id := model.NewID()
	c := newController(r.base, model.NewTask(id, conf, r.now()), r.now)
	c.publish = r.broker.Publish

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		c.release()
		return "", ErrClosed
	}

	r.controllers[id] = c
	r.broker.Open(id)
	// Launching under the lock orders every launch before Shutdown's wait.
	r.sched.launch(c, body)

	tasksSubmitted.Inc()
	r.logger.Debug("task submitted", "task_id", id, "name", conf.Name)

	return id, nil
}

// GetStatus returns a snapshot of the task with the given handle. ok is false
// if the handle is unknown or was already evicted. Reading a finished task
// that does not persist on read evicts it: among concurrent readers exactly
// one receives the status and the others observe not-found.
func (r *Registry) GetStatus(id string) (status model.Status, ok bool) {
	c, ok := r.lookup(id)
	if !ok {
		return model.Status{}, false
	}

	status = c.Snapshot()
	if status.State == model.StateFinished && !c.persistOnRead() {
		if !r.remove(id, c, evictRead) {
			return model.Status{}, false
		}
	}
	return status, true
}

// CancelTask requests cancellation of the task with the given handle. Unknown
// handles and tasks that already reached a terminal state are ignored.
func (r *Registry) CancelTask(id string) {
	c, ok := r.lookup(id)
	if !ok {
		return
	}
	c.Cancel()
	r.logger.Debug("task cancellation requested", "task_id", id)
}

// Len returns the number of tasks currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// Wait blocks until all in-flight work bodies have returned.
func (r *Registry) Wait() {
	r.sched.wait()
}

// Shutdown stops accepting submissions, stops the sweeper, requests
// cancellation of every live task and waits for workers to return or for ctx
// to be done. Tasks stay readable after Shutdown.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.sweeper.Stop()
		r.stopBase()
	})

	done := make(chan struct{})
	go func() {
		r.sched.wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

func (r *Registry) lookup(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	return c, ok
}

// remove deletes id if it still maps to c. It reports whether this call
// performed the removal.
func (r *Registry) remove(id string, c *Controller, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.controllers[id]
	if !ok || cur != c {
		return false
	}
	delete(r.controllers, id)
	r.broker.Forget(id)
	tasksEvicted.WithLabelValues(reason).Inc()
	return true
}

// evictExpired removes every task whose result expired before now.
func (r *Registry) evictExpired(now time.Time) int {
	r.mu.RLock()
	candidates := make(map[string]*Controller)
	for id, c := range r.controllers {
		if c.expired(now) {
			candidates[id] = c
		}
	}
	r.mu.RUnlock()

	evicted := 0
	for id, c := range candidates {
		if r.remove(id, c, evictExpired) {
			evicted++
			r.logger.Debug("task expired", "task_id", id)
		}
	}
	return evicted
}
