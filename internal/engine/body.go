package engine

import (
	"context"
	"time"

	"github.com/seantiz/webtasks/internal/model"
)

// TaskContext is what a context-aware work body receives. It carries the
// cooperative cancellation signal and the progress reporting surface.
type TaskContext interface {
	// ID returns the handle of the running task.
	ID() string

	// Context returns a context that is canceled when cancellation is requested.
	Context() context.Context

	// Done is closed when cancellation is requested.
	Done() <-chan struct{}

	// Err returns context.Canceled once cancellation is requested, nil before.
	Err() error

	// Canceled reports whether cancellation has been requested.
	Canceled() bool

	// Timeout returns the advisory work timeout the task was submitted with.
	Timeout() time.Duration

	// ReportProgress appends an entry to the task's progress log.
	ReportProgress(p model.Progress)
}

// PlainFunc is a work body without access to cancellation or progress.
type PlainFunc func() (any, error)

// AwareFunc is a work body that receives a TaskContext.
type AwareFunc func(tc TaskContext) (any, error)

// Body is a submitted unit of work. Exactly one of its variants is set;
// build it with Plain or Aware.
type Body struct {
	plain PlainFunc
	aware AwareFunc
}

// Plain wraps a context-free work body.
func Plain(fn PlainFunc) Body {
	return Body{plain: fn}
}

// Aware wraps a context-aware work body.
func Aware(fn AwareFunc) Body {
	return Body{aware: fn}
}

// ContextAware reports whether the body receives a TaskContext.
func (b Body) ContextAware() bool {
	return b.aware != nil
}

func (b Body) valid() bool {
	return b.plain != nil || b.aware != nil
}

func (b Body) invoke(tc TaskContext) (any, error) {
	if b.aware != nil {
		return b.aware(tc)
	}
	return b.plain()
}
