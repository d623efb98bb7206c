package model

import (
	"errors"
	"fmt"
	"time"
)

// State is the execution state of a task.
type State string

// Task state constants.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Default task configuration values.
const (
	DefaultResultExpiration = time.Minute
	DefaultWorkTimeout      = 10 * time.Minute
	DefaultPersistOnRead    = false
)

// ErrInvalidConfig is returned when a task configuration carries negative durations.
var ErrInvalidConfig = errors.New("invalid task configuration")

// validTransitions maps each state to the set of states it may transition to.
// Terminal states have no entry.
var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateRunning: true,
	},
	StateRunning: {
		StateFinished: true,
		StateFailed:   true,
		StateCanceled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether s is one of Finished, Failed or Canceled.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCanceled
}

// Progress is a single progress report emitted by a running task.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Config is the caller-supplied configuration of a task. It is read once at
// submission. Zero durations fall back to the defaults.
type Config struct {
	// Name is an optional label recorded in logs and task history.
	Name string `json:"name,omitempty"`

	// ResultExpiration is how long a finished task stays in the registry.
	ResultExpiration time.Duration `json:"result_expiration"`

	// WorkTimeout is handed to the work body. It is advisory: the engine never
	// preempts a body because of it.
	WorkTimeout time.Duration `json:"work_timeout"`

	// PersistOnRead keeps a finished task in the registry after its status is read.
	PersistOnRead bool `json:"persist_on_read"`
}

// DefaultConfig returns a Config populated with the default values.
func DefaultConfig() Config {
	return Config{
		ResultExpiration: DefaultResultExpiration,
		WorkTimeout:      DefaultWorkTimeout,
		PersistOnRead:    DefaultPersistOnRead,
	}
}

// WithDefaults returns a copy of c where zero durations are replaced by the
// matching durations of defaults.
func (c Config) WithDefaults(defaults Config) Config {
	if c.ResultExpiration == 0 {
		c.ResultExpiration = defaults.ResultExpiration
	}
	if c.WorkTimeout == 0 {
		c.WorkTimeout = defaults.WorkTimeout
	}
	return c
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	if c.ResultExpiration < 0 {
		return fmt.Errorf("%w: negative result expiration %s", ErrInvalidConfig, c.ResultExpiration)
	}
	if c.WorkTimeout < 0 {
		return fmt.Errorf("%w: negative work timeout %s", ErrInvalidConfig, c.WorkTimeout)
	}
	return nil
}

// Task is the record of one unit of submitted work. It is owned by a single
// controller and never shared directly with callers.
type Task struct {
	ID            string
	Name          string
	State         State
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Expiration    time.Duration
	Timeout       time.Duration
	PersistOnRead bool
	Result        any
	Progress      []Progress
	Error         string
}

// NewTask creates an idle task from the given configuration.
func NewTask(id string, cfg Config, now time.Time) Task {
	return Task{
		ID:            id,
		Name:          cfg.Name,
		State:         StateIdle,
		CreatedAt:     now,
		Expiration:    cfg.ResultExpiration,
		Timeout:       cfg.WorkTimeout,
		PersistOnRead: cfg.PersistOnRead,
	}
}

// Expired reports whether the task finished more than its expiration ago.
func (t *Task) Expired(now time.Time) bool {
	return t.FinishedAt != nil && now.After(t.FinishedAt.Add(t.Expiration))
}

// Status is an immutable snapshot of a task taken at read time.
type Status struct {
	ID       string     `json:"id"`
	State    State      `json:"state"`
	Error    string     `json:"error,omitempty"`
	Progress []Progress `json:"progress"`
	Result   any        `json:"result,omitempty"`
}

// TaskRecord is the history entry written when a task reaches a terminal state.
type TaskRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Error         string     `json:"error,omitempty"`
	ProgressCount int        `json:"progress_count"`
	DurationMS    *int       `json:"duration_ms,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
