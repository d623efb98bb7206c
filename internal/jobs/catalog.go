package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/webtasks/internal/engine"
)

// ErrUnknownJob is returned when a job name is not registered.
var ErrUnknownJob = errors.New("unknown job")

// ErrInvalidParams is returned when a job rejects its parameters.
var ErrInvalidParams = errors.New("invalid job parameters")

// Job is a named work body factory. The HTTP layer cannot carry functions, so
// submissions name a registered job and pass it JSON parameters.
type Job interface {
	// Name is the catalog key.
	Name() string

	// Describe reports what the job does for catalog listings.
	Describe() Descriptor

	// Build validates params and returns a body ready for submission.
	// A nil or empty params value means "use defaults".
	Build(params json.RawMessage) (engine.Body, error)
}

// Descriptor describes a registered job.
type Descriptor struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ContextAware bool   `json:"context_aware"`
}

// Catalog holds registered jobs and resolves them by name.
type Catalog struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewCatalog creates an empty job catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		jobs: make(map[string]Job),
	}
}

// NewDefaultCatalog creates a catalog holding the built-in jobs.
func NewDefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(Echo{})
	c.Register(Count{})
	c.Register(Fail{})
	return c
}

// Register adds a job under its name, replacing any job with the same name.
func (c *Catalog) Register(j Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[j.Name()] = j
}

// Resolve returns the job registered under name.
func (c *Catalog) Resolve(name string) (Job, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	j, ok := c.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return j, nil
}

// Build resolves name and builds its body from params.
func (c *Catalog) Build(name string, params json.RawMessage) (engine.Body, error) {
	j, err := c.Resolve(name)
	if err != nil {
		return engine.Body{}, err
	}
	return j.Build(params)
}

// List returns descriptors for all registered jobs, sorted by name
// for a stable API response.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j.Describe())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Name < out[k].Name
	})
	return out
}
