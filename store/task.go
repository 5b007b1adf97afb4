// Package store keeps backtest task state and finished results.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrTaskNotFound = errors.New("task not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Kind string

const (
	KindSingle    Kind = "single"
	KindPortfolio Kind = "portfolio"
	KindOptimize  Kind = "optimize"
)

// Task is one asynchronous backtest request and, once done, its outcome.
type Task struct {
	ID        string          `json:"task_id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Symbol    string          `json:"symbol,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskStore persists tasks. List returns the newest tasks first.
type TaskStore interface {
	Save(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, limit int) ([]*Task, error)
	Delete(ctx context.Context, id string) error
}

func cloneTask(t *Task) *Task {
	c := *t
	c.Request = append(json.RawMessage(nil), t.Request...)
	c.Result = append(json.RawMessage(nil), t.Result...)
	return &c
}
