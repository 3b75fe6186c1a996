// Package manager orchestrates validated task mutations against the store
// and the in-memory dependency graph.
package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/depflow/graph"
	"github.com/GoCodeAlone/depflow/task"
)

// ErrHasDependents means a delete was blocked because other tasks still
// depend on the target. Deletion never cascades.
var ErrHasDependents = errors.New("task has dependents")

// Manager owns one store and the graph view derived from it. All mutations
// run under an exclusive lock around {validate, commit, update graph} so a
// cycle check can never race a concurrent insertion; read-only queries
// share the read lock.
type Manager struct {
	mu    sync.RWMutex
	store task.Store
	graph *graph.Graph
	log   *slog.Logger
}

// New builds a manager over store, loading all tasks to construct the
// dependency graph. A store containing a cycle or a dangling dependency
// fails here rather than later.
func New(store task.Store, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tasks, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	g, err := graph.Build(tasks)
	if err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}
	logger.Debug("dependency graph loaded", "tasks", g.Len())
	return &Manager{store: store, graph: g, log: logger}, nil
}

// CreateOptions carries the optional fields for CreateTask.
type CreateOptions struct {
	Description string
	Priority    int
	Due         *time.Time
	Tags        []string
	DependsOn   []string
}

// CreateTask persists a new pending task. Every listed dependency must
// already exist; self-dependencies are impossible because the ID is
// assigned here.
func (m *Manager) CreateTask(title string, opts CreateOptions) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Dependencies are a set: validate each and drop repeats.
	seen := make(map[string]struct{}, len(opts.DependsOn))
	deps := make([]string, 0, len(opts.DependsOn))
	for _, dep := range opts.DependsOn {
		if !m.graph.HasNode(dep) {
			return nil, fmt.Errorf("dependency %s: %w", dep, graph.ErrUnknownTask)
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		deps = append(deps, dep)
	}

	t := &task.Task{
		Title:       title,
		Description: opts.Description,
		Status:      task.StatusPending,
		Priority:    opts.Priority,
		Due:         opts.Due,
		Tags:        opts.Tags,
		DependsOn:   deps,
	}
	id, err := m.store.Create(t)
	if err != nil {
		return nil, err
	}

	m.graph.AddNode(id)
	for _, dep := range t.DependsOn {
		// Cannot fail: dep exists and a fresh node closes no cycle.
		if err := m.graph.AddEdge(id, dep); err != nil {
			return nil, fmt.Errorf("graph out of sync adding %s: %w", id, err)
		}
	}
	m.log.Debug("task created", "id", id, "title", title, "deps", len(t.DependsOn))
	return t, nil
}

// GetTask returns a task by ID.
func (m *Manager) GetTask(id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Get(id)
}

// AddDependency records that taskID depends on dependsOnID. The cycle check
// runs before anything is committed; on ErrWouldCreateCycle neither the
// store nor the graph changes.
func (m *Manager) AddDependency(taskID, dependsOnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.Get(taskID)
	if err != nil {
		return err
	}
	if !m.graph.HasNode(dependsOnID) {
		return fmt.Errorf("dependency %s: %w", dependsOnID, graph.ErrUnknownTask)
	}

	// Validates endpoints, duplicates, and acyclicity; mutates the graph
	// only when all checks pass.
	if err := m.graph.AddEdge(taskID, dependsOnID); err != nil {
		return err
	}

	t.DependsOn = append(t.DependsOn, dependsOnID)
	if err := m.store.Update(t); err != nil {
		// Roll the edge back so the view still matches the store.
		_ = m.graph.RemoveEdge(taskID, dependsOnID)
		return err
	}
	m.log.Debug("dependency added", "task", taskID, "depends_on", dependsOnID)
	return nil
}

// RemoveDependency drops taskID's dependency on dependsOnID, failing with
// graph.ErrEdgeNotFound if no such edge exists.
func (m *Manager) RemoveDependency(taskID, dependsOnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.Get(taskID)
	if err != nil {
		return err
	}
	if err := m.graph.RemoveEdge(taskID, dependsOnID); err != nil {
		return err
	}

	kept := t.DependsOn[:0]
	for _, dep := range t.DependsOn {
		if dep != dependsOnID {
			kept = append(kept, dep)
		}
	}
	t.DependsOn = kept
	if err := m.store.Update(t); err != nil {
		_ = m.graph.AddEdge(taskID, dependsOnID)
		return err
	}
	m.log.Debug("dependency removed", "task", taskID, "depends_on", dependsOnID)
	return nil
}

// DeleteTask removes a task that nothing depends on. Deletion is blocked,
// not cascaded: callers must remove dependent edges first.
func (m *Manager) DeleteTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.graph.HasNode(id) {
		return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if dependents := m.graph.Successors(id); len(dependents) > 0 {
		return fmt.Errorf("task %s is required by %d task(s): %w", id, len(dependents), ErrHasDependents)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	if err := m.graph.RemoveNode(id); err != nil {
		return fmt.Errorf("graph out of sync removing %s: %w", id, err)
	}
	m.log.Debug("task deleted", "id", id)
	return nil
}

// UpdateStatus sets a task's status. The status must already have passed
// task.ParseStatus at the boundary.
func (m *Manager) UpdateStatus(id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.store.Get(id)
	if err != nil {
		return err
	}
	t.Status = status
	if err := m.store.Update(t); err != nil {
		return err
	}
	m.log.Debug("status updated", "id", id, "status", status)
	return nil
}

// ListTasks returns all tasks ordered by ascending ID. A non-nil status
// filters the result.
func (m *Manager) ListTasks(status *task.Status) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.store.List()
	if err != nil {
		return nil, err
	}
	if status == nil {
		return tasks, nil
	}
	filtered := tasks[:0]
	for _, t := range tasks {
		if t.Status == *status {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// ExecutionOrder returns every task in a valid execution sequence: each
// prerequisite before all of its dependents, ties broken by ascending ID.
func (m *Manager) ExecutionOrder() ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, err := m.graph.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("internal consistency error: %w", err)
	}
	tasks := make([]*task.Task, 0, len(order))
	for _, id := range order {
		t, err := m.store.Get(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ReadyTasks returns the pending tasks whose prerequisites are all done,
// ordered by due date (no due date last), then priority descending, then ID.
func (m *Manager) ReadyTasks() ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.store.List()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []*task.Task
	for _, t := range tasks {
		if t.Status != task.StatusPending {
			continue
		}
		blocked := false
		for _, dep := range t.DependsOn {
			if prereq, ok := byID[dep]; !ok || prereq.Status != task.StatusDone {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		switch {
		case a.Due != nil && b.Due == nil:
			return true
		case a.Due == nil && b.Due != nil:
			return false
		case a.Due != nil && b.Due != nil && !a.Due.Equal(*b.Due):
			return a.Due.Before(*b.Due)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return ready, nil
}

// snapshot is the JSON export format.
type snapshot struct {
	Tasks []*task.Task `json:"tasks"`
}

// Export writes all tasks as an indented JSON snapshot.
func (m *Manager) Export(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.store.List()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot{Tasks: tasks})
}

// Import replaces the store contents with a previously exported snapshot.
// The snapshot is validated as a whole before anything is written: a
// missing or duplicate task id, an unrecognized status, a dangling
// dependency, or a cycle rejects the import and leaves the current state
// untouched. A missing status defaults to pending, matching CreateTask.
func (m *Manager) Import(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %v", err)
	}
	seen := make(map[string]struct{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if t.ID == "" {
			return fmt.Errorf("invalid snapshot: task %q has no id", t.Title)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("invalid snapshot: duplicate task id %s", t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.Status == "" {
			t.Status = task.StatusPending
		}
		if _, err := task.ParseStatus(string(t.Status)); err != nil {
			return fmt.Errorf("invalid snapshot: task %s: %v", t.ID, err)
		}
	}
	g, err := graph.Build(snap.Tasks)
	if err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	existing, err := m.store.List()
	if err != nil {
		return err
	}
	// Validation is done; writes start here. A storage failure mid-loop
	// leaves a partial store, so resync the graph view before returning.
	for _, t := range existing {
		if err := m.store.Delete(t.ID); err != nil {
			return m.resync(err)
		}
	}
	for _, t := range snap.Tasks {
		if _, err := m.store.Create(t); err != nil {
			return m.resync(err)
		}
	}
	m.graph = g
	m.log.Info("snapshot imported", "tasks", len(snap.Tasks))
	return nil
}

// resync rebuilds the graph from whatever the store now holds so the view
// stays truthful after a failed bulk write, then returns the original error.
func (m *Manager) resync(cause error) error {
	tasks, err := m.store.List()
	if err != nil {
		return fmt.Errorf("%w (store unreadable during recovery: %v)", cause, err)
	}
	g, err := graph.Build(tasks)
	if err != nil {
		return fmt.Errorf("%w (graph rebuild during recovery: %v)", cause, err)
	}
	m.graph = g
	return cause
}
