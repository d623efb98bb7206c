package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seantiz/webtasks/internal/engine"
	"github.com/seantiz/webtasks/internal/model"
)

var validate = validator.New()

// decodeParams unmarshals raw into v (when present) and validates the result.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Echo returns its value parameter unchanged.
type Echo struct{}

type echoParams struct {
	Value any `json:"value"`
}

func (Echo) Name() string { return "echo" }

func (e Echo) Describe() Descriptor {
	return Descriptor{Name: e.Name(), Description: "returns the value parameter as the result"}
}

func (Echo) Build(raw json.RawMessage) (engine.Body, error) {
	var p echoParams
	if err := decodeParams(raw, &p); err != nil {
		return engine.Body{}, err
	}
	return engine.Plain(func() (any, error) {
		return p.Value, nil
	}), nil
}

// Count counts to Total, pausing StepMS between steps and reporting progress
// after each one. It stops early when cancellation is requested.
type Count struct{}

type countParams struct {
	Total  int `json:"total" validate:"gte=1,lte=10000"`
	StepMS int `json:"step_ms" validate:"gte=0,lte=60000"`
}

func (Count) Name() string { return "count" }

func (c Count) Describe() Descriptor {
	return Descriptor{
		Name:         c.Name(),
		Description:  "counts to total in step_ms steps, reporting progress; honors cancellation",
		ContextAware: true,
	}
}

func (Count) Build(raw json.RawMessage) (engine.Body, error) {
	p := countParams{Total: 10, StepMS: 100}
	if err := decodeParams(raw, &p); err != nil {
		return engine.Body{}, err
	}
	step := time.Duration(p.StepMS) * time.Millisecond

	return engine.Aware(func(tc engine.TaskContext) (any, error) {
		timer := time.NewTimer(step)
		defer timer.Stop()

		for i := 1; i <= p.Total; i++ {
			select {
			case <-tc.Done():
				return nil, tc.Err()
			case <-timer.C:
			}
			tc.ReportProgress(model.Progress{
				Current: i,
				Total:   p.Total,
				Message: fmt.Sprintf("step %d of %d", i, p.Total),
			})
			timer.Reset(step)
		}
		return p.Total, nil
	}), nil
}

// Fail always fails with the message parameter.
type Fail struct{}

type failParams struct {
	Message string `json:"message" validate:"required"`
}

func (Fail) Name() string { return "fail" }

func (f Fail) Describe() Descriptor {
	return Descriptor{Name: f.Name(), Description: "fails with the message parameter"}
}

func (Fail) Build(raw json.RawMessage) (engine.Body, error) {
	p := failParams{Message: "job failed"}
	if err := decodeParams(raw, &p); err != nil {
		return engine.Body{}, err
	}
	return engine.Plain(func() (any, error) {
		return nil, errors.New(p.Message)
	}), nil
}
