package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/webtasks/internal/model"
)

// ErrInvalidTransition is returned when a controller mutation is attempted
// from a state that does not allow it.
var ErrInvalidTransition = errors.New("invalid state transition")

// Compile-time interface satisfaction check.
var _ TaskContext = (*Controller)(nil)

// Controller owns one task and its cancellation signal. It is the only code
// that mutates the task; every mutation and every snapshot holds mu, so a
// reader never observes part of a transition.
type Controller struct {
	mu   sync.Mutex
	task model.Task

	ctx    context.Context
	cancel context.CancelFunc

	now     func() time.Time
	publish func(id string, p model.Progress)
}

// newController wraps task. Cancellation of parent also cancels the task.
func newController(parent context.Context, task model.Task, now func() time.Time) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		task:   task,
		ctx:    ctx,
		cancel: cancel,
		now:    now,
	}
}

// ID returns the task handle.
func (c *Controller) ID() string {
	return c.task.ID
}

// Context returns the task's cancellation context.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Done is closed once cancellation is requested.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns context.Canceled once cancellation is requested.
func (c *Controller) Err() error {
	return c.ctx.Err()
}

// Canceled reports whether cancellation has been requested.
func (c *Controller) Canceled() bool {
	return c.ctx.Err() != nil
}

// Timeout returns the advisory work timeout.
func (c *Controller) Timeout() time.Duration {
	return c.task.Timeout
}

// Cancel requests cooperative cancellation. It does not change the state;
// the task becomes Canceled only once the work body honors the signal.
func (c *Controller) Cancel() {
	c.cancel()
}

// ReportProgress appends p to the progress log. Reports arriving outside the
// Running state are dropped.
func (c *Controller) ReportProgress(p model.Progress) {
	if err := c.reportProgress(p); err != nil {
		return
	}
	if c.publish != nil {
		c.publish(c.task.ID, p)
	}
}

func (c *Controller) reportProgress(p model.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task.State != model.StateRunning {
		return fmt.Errorf("%w: progress reported in state %s", ErrInvalidTransition, c.task.State)
	}
	c.task.Progress = append(c.task.Progress, p)
	return nil
}

// Snapshot returns an independent copy of the task's observable state.
func (c *Controller) Snapshot() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	// An empty log is reported as an empty list, never null.
	progress := make([]model.Progress, len(c.task.Progress))
	copy(progress, c.task.Progress)

	return model.Status{
		ID:       c.task.ID,
		State:    c.task.State,
		Error:    c.task.Error,
		Progress: progress,
		Result:   c.task.Result,
	}
}

// start moves the task from Idle to Running.
func (c *Controller) start() error {
	return c.transition(model.StateRunning, func(t *model.Task) {
		now := c.now()
		t.StartedAt = &now
	})
}

// complete moves the task from Running to Finished and stores result.
func (c *Controller) complete(result any) error {
	return c.transition(model.StateFinished, func(t *model.Task) {
		t.Result = result
	})
}

// fail moves the task from Running to Failed and stores msg.
func (c *Controller) fail(msg string) error {
	return c.transition(model.StateFailed, func(t *model.Task) {
		t.Error = msg
	})
}

// canceled moves the task from Running to Canceled.
func (c *Controller) canceled() error {
	return c.transition(model.StateCanceled, nil)
}

// transition applies a state change and its field writes atomically. Terminal
// transitions also stamp the finished time.
func (c *Controller) transition(to model.State, apply func(t *model.Task)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.task.State
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if apply != nil {
		apply(&c.task)
	}
	if to.Terminal() {
		now := c.now()
		c.task.FinishedAt = &now
	}
	c.task.State = to
	return nil
}

// release frees the resources held by the cancellation context. It is called
// once the work body has returned and the terminal state is recorded.
func (c *Controller) release() {
	c.cancel()
}

func (c *Controller) persistOnRead() bool {
	return c.task.PersistOnRead
}

func (c *Controller) expired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task.Expired(now)
}

// record builds the history entry for a task in a terminal state.
func (c *Controller) record() model.TaskRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := model.TaskRecord{
		ID:            c.task.ID,
		Name:          c.task.Name,
		State:         c.task.State,
		Error:         c.task.Error,
		ProgressCount: len(c.task.Progress),
		CreatedAt:     c.task.CreatedAt,
		StartedAt:     c.task.StartedAt,
		FinishedAt:    c.task.FinishedAt,
	}
	if c.task.StartedAt != nil && c.task.FinishedAt != nil {
		dur := int(c.task.FinishedAt.Sub(*c.task.StartedAt).Milliseconds())
		rec.DurationMS = &dur
	}
	return rec
}
