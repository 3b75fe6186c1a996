// Package task defines the task model and persistence for dependency-aware work items.
package task

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// ParseStatus validates a user-supplied status string. Unrecognized values
// are rejected at the boundary rather than stored.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusDone, StatusBlocked:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q (expected pending, in_progress, done, or blocked)", s)
}

// Task is a unit of work. DependsOn lists the IDs of tasks that must
// complete before this one can start.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Due         *time.Time `json:"due,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its ID. If t.ID is empty a
	// fresh ID is assigned; a pre-set ID that already exists fails with
	// ErrConflict.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(t *Task) error

	// List returns all tasks ordered by ascending ID.
	List() ([]*Task, error)

	// Delete removes a task by ID.
	Delete(id string) error
}
