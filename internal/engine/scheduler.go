package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/webtasks/internal/model"
)

// recordTimeout bounds a single history write.
const recordTimeout = 5 * time.Second

// ErrBodyExited is the failure recorded for a body that terminated its
// goroutine without returning, e.g. through runtime.Goexit.
var ErrBodyExited = errors.New("work body exited without returning")

// Recorder receives the history entry of every task that reaches a terminal state.
type Recorder interface {
	RecordTask(ctx context.Context, rec model.TaskRecord) error
}

// scheduler runs work bodies on goroutines and translates each outcome into
// exactly one terminal controller transition.
type scheduler struct {
	slots    *semaphore.Weighted
	wg       sync.WaitGroup
	broker   *ProgressBroker
	recorder Recorder
	logger   *slog.Logger
}

// newScheduler creates a scheduler. maxWorkers <= 0 means no limit.
func newScheduler(maxWorkers int, broker *ProgressBroker, recorder Recorder, logger *slog.Logger) *scheduler {
	s := &scheduler{
		broker:   broker,
		recorder: recorder,
		logger:   logger,
	}
	if maxWorkers > 0 {
		s.slots = semaphore.NewWeighted(int64(maxWorkers))
	}
	return s
}

// launch starts execution of body under c and returns immediately.
func (s *scheduler) launch(c *Controller, body Body) {
	s.wg.Go(func() {
		s.execute(c, body)
	})
}

// wait blocks until all launched executions have returned.
func (s *scheduler) wait() {
	s.wg.Wait()
}

// execute runs the task lifecycle: idle→running→finished/failed/canceled.
func (s *scheduler) execute(c *Controller, body Body) {
	defer s.broker.Close(c.ID())
	defer c.release()

	// Waiting for a worker slot ends early when cancellation is requested; the
	// task is then settled as canceled without invoking the body.
	if s.slots != nil {
		if err := s.slots.Acquire(c.Context(), 1); err == nil {
			defer s.slots.Release(1)
		}
	}

	if err := c.start(); err != nil {
		s.logger.Error("failed to transition to running", "task_id", c.ID(), "error", err)
		return
	}
	tasksActive.Inc()
	defer tasksActive.Dec()

	start := time.Now()
	s.logger.Debug("task started", "task_id", c.ID(), "context_aware", body.ContextAware())

	if c.Canceled() {
		s.finish(c, start, nil, context.Canceled)
		return
	}

	// runtime.Goexit skips the code after invoke but still runs deferred
	// calls, so the task is settled from here when the body never returned.
	returned := false
	defer func() {
		if !returned {
			s.finish(c, start, nil, ErrBodyExited)
		}
	}()
	result, err := invoke(c, body)
	returned = true

	s.finish(c, start, result, err)
}

// finish settles the task, updates metrics and records its history.
func (s *scheduler) finish(c *Controller, start time.Time, result any, err error) {
	state, settleErr := s.settle(c, result, err)
	if settleErr != nil {
		s.logger.Error("failed to settle task", "task_id", c.ID(), "error", settleErr)
		return
	}

	taskDuration.Observe(time.Since(start).Seconds())
	tasksCompleted.WithLabelValues(string(state)).Inc()

	if state == model.StateFailed {
		s.logger.Warn("task failed", "task_id", c.ID(), "error", err)
	} else {
		s.logger.Debug("task settled", "task_id", c.ID(), "state", state)
	}

	s.record(c)
}

// settle chooses the terminal state for the body's outcome. A task counts as
// canceled only when cancellation was requested and the body stopped with
// context.Canceled; a body that ignores the signal finishes or fails normally.
func (s *scheduler) settle(c *Controller, result any, err error) (model.State, error) {
	switch {
	case err == nil:
		return model.StateFinished, c.complete(result)
	case errors.Is(err, context.Canceled) && c.Canceled():
		return model.StateCanceled, c.canceled()
	default:
		return model.StateFailed, c.fail(err.Error())
	}
}

func (s *scheduler) record(c *Controller) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := s.recorder.RecordTask(ctx, c.record()); err != nil {
		s.logger.Error("failed to record task", "task_id", c.ID(), "error", err)
	}
}

// invoke calls the body, converting a panic into an error.
func invoke(c *Controller, body Body) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return body.invoke(c)
}
