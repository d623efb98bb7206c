package store

import (
	"context"

	"github.com/seantiz/webtasks/internal/model"
)

// TaskStats holds aggregate statistics over recorded tasks.
type TaskStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByName   map[string]int `json:"count_by_name"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store persists the history of tasks that reached a terminal state.
type Store interface {
	RecordTask(ctx context.Context, rec model.TaskRecord) error
	GetTask(ctx context.Context, id string) (*model.TaskRecord, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskRecord, int, error)
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}
