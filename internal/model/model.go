// Package model defines the durable entities Foreman persists: Run, Task,
// and Run Data. Structured payload fields are stored opaque (parsed at the
// HTTP boundary, persisted as JSONB).
package model

import "encoding/json"

// JSON is an opaque structured document. nil means "not set" and round-trips
// to a JSON null / absent column, distinct from an explicit empty object.
type JSON = json.RawMessage

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether status is absorbing: once reached, the run's
// status can no longer change (other fields may still be updated).
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskRetrying  TaskStatus = "retrying"
)

// Terminal reports whether status is absorbing.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Run is a top-level workflow execution.
type Run struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"orgId"`
	Status         RunStatus `json:"status"`
	InputData      JSON      `json:"inputData"`
	OutputData     JSON      `json:"outputData,omitempty"`
	ErrorData      JSON      `json:"errorData,omitempty"`
	Metadata       JSON      `json:"metadata,omitempty"`
	TotalTasks     int       `json:"totalTasks"`
	CompletedTasks int       `json:"completedTasks"`
	FailedTasks    int       `json:"failedTasks"`
	CreatedAt      int64     `json:"createdAt"`
	UpdatedAt      int64     `json:"updatedAt"`
	StartedAt      *int64    `json:"startedAt,omitempty"`
	CompletedAt    *int64    `json:"completedAt,omitempty"`
	DurationMs     *int64    `json:"durationMs,omitempty"`
}

// Task is a unit of work belonging to exactly one Run.
type Task struct {
	ID            string     `json:"id"`
	OrgID         string     `json:"orgId"`
	RunID         string     `json:"runId"`
	ParentTaskID  *string    `json:"parentTaskId,omitempty"`
	Type          string     `json:"type"`
	Status        TaskStatus `json:"status"`
	InputData     JSON       `json:"inputData"`
	OutputData    JSON       `json:"outputData,omitempty"`
	ErrorData     JSON       `json:"errorData,omitempty"`
	Metadata      JSON       `json:"metadata,omitempty"`
	RetryCount    int        `json:"retryCount"`
	MaxRetries    int        `json:"maxRetries"`
	QueueJobID    *string    `json:"queueJobId,omitempty"`
	CreatedAt     int64      `json:"createdAt"`
	UpdatedAt     int64      `json:"updatedAt"`
	QueuedAt      *int64     `json:"queuedAt,omitempty"`
	StartedAt     *int64     `json:"startedAt,omitempty"`
	CompletedAt   *int64     `json:"completedAt,omitempty"`
	DurationMs    *int64     `json:"durationMs,omitempty"`
}

// RunData is a tagged key/value artifact produced during a run.
type RunData struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"orgId"`
	RunID     string   `json:"runId"`
	TaskID    string   `json:"taskId"`
	Key       string   `json:"key"`
	Value     JSON     `json:"value"`
	Metadata  JSON     `json:"metadata,omitempty"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// Page is the pagination envelope shared by list operations.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	MaxRetriesMin     = 0
	MaxRetriesMax     = 10
	MaxRetriesDefault = 3
)

// ClampMaxRetries applies the default/clamp rule for a task's max retries.
func ClampMaxRetries(v *int) int {
	if v == nil {
		return MaxRetriesDefault
	}
	n := *v
	if n < MaxRetriesMin {
		return MaxRetriesMin
	}
	if n > MaxRetriesMax {
		return MaxRetriesMax
	}
	return n
}
