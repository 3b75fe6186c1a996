// Package graph maintains the in-memory dependency graph over task IDs.
//
// Edges point from a task to its prerequisites: an edge from A to B means
// A depends on B, so B must complete first. The graph enforces acyclicity
// on every insertion; a Graph that has only been mutated through its
// methods never contains a cycle.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/GoCodeAlone/depflow/task"
)

var (
	// ErrUnknownTask means an edge endpoint references a task that is not
	// in the graph.
	ErrUnknownTask = errors.New("unknown task")

	// ErrWouldCreateCycle means the proposed edge was rejected because it
	// would close a directed cycle.
	ErrWouldCreateCycle = errors.New("dependency would create a cycle")

	// ErrDuplicateEdge means the edge is already present.
	ErrDuplicateEdge = errors.New("dependency already exists")

	// ErrEdgeNotFound means a removal referenced an edge that is not present.
	ErrEdgeNotFound = errors.New("dependency not found")

	// ErrCycle is the defensive sort failure. Validated graphs cannot
	// trigger it; seeing it means an invariant was violated elsewhere.
	ErrCycle = errors.New("dependency graph contains a cycle")
)

// Graph is the adjacency view of the task dependency relation. It is not
// safe for concurrent use; the owning manager serializes access.
type Graph struct {
	deps       map[string]map[string]struct{} // id -> ids it depends on
	dependents map[string]map[string]struct{} // id -> ids that depend on it
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Build constructs a graph from a store snapshot, validating that every
// dependency references a known task and that the whole is acyclic.
func Build(tasks []*task.Task) (*Graph, error) {
	g := New()
	for _, t := range tasks {
		g.AddNode(t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if err := g.AddEdge(t.ID, dep); err != nil {
				return nil, fmt.Errorf("task %s depends on %s: %w", t.ID, dep, err)
			}
		}
	}
	return g, nil
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.deps) }

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// AddNode registers a task with no edges. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.deps[id]; ok {
		return
	}
	g.deps[id] = make(map[string]struct{})
	g.dependents[id] = make(map[string]struct{})
}

// RemoveNode drops a task and its outgoing (prerequisite) edges. The caller
// must have verified that nothing depends on it.
func (g *Graph) RemoveNode(id string) error {
	if !g.HasNode(id) {
		return fmt.Errorf("remove node %s: %w", id, ErrUnknownTask)
	}
	for dep := range g.deps[id] {
		delete(g.dependents[dep], id)
	}
	for succ := range g.dependents[id] {
		delete(g.deps[succ], id)
	}
	delete(g.deps, id)
	delete(g.dependents, id)
	return nil
}

// HasEdge reports whether from already depends on to.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.deps[from][to]
	return ok
}

// AddEdge records that from depends on to. It fails with ErrUnknownTask if
// either endpoint is absent, ErrDuplicateEdge if the edge exists, and
// ErrWouldCreateCycle if the edge would close a cycle. On failure the graph
// is unchanged.
func (g *Graph) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return fmt.Errorf("edge %s -> %s: %w: %s", from, to, ErrUnknownTask, from)
	}
	if !g.HasNode(to) {
		return fmt.Errorf("edge %s -> %s: %w: %s", from, to, ErrUnknownTask, to)
	}
	if g.HasEdge(from, to) {
		return fmt.Errorf("edge %s -> %s: %w", from, to, ErrDuplicateEdge)
	}
	if g.WouldCreateCycle(from, to) {
		return fmt.Errorf("edge %s -> %s: %w", from, to, ErrWouldCreateCycle)
	}
	g.deps[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
	return nil
}

// RemoveEdge drops the dependency of from on to.
func (g *Graph) RemoveEdge(from, to string) error {
	if !g.HasNode(from) || !g.HasNode(to) {
		return fmt.Errorf("edge %s -> %s: %w", from, to, ErrUnknownTask)
	}
	if !g.HasEdge(from, to) {
		return fmt.Errorf("edge %s -> %s: %w", from, to, ErrEdgeNotFound)
	}
	delete(g.deps[from], to)
	delete(g.dependents[to], from)
	return nil
}

// Predecessors returns the IDs from depends on, sorted ascending.
func (g *Graph) Predecessors(id string) []string {
	return sortedKeys(g.deps[id])
}

// Successors returns the IDs that depend on id, sorted ascending.
func (g *Graph) Successors(id string) []string {
	return sortedKeys(g.dependents[id])
}

// WouldCreateCycle reports whether adding an edge from -> to (from depends
// on to) would close a directed cycle. The edge closes a cycle exactly when
// to already transitively depends on from, so the search walks dependency
// edges outward from to and touches only nodes reachable from it. The graph
// is never mutated.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	stack := []string{to}
	visited := make(map[string]struct{})
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[node]; seen {
			continue
		}
		visited[node] = struct{}{}
		for next := range g.deps[node] {
			if next == from {
				return true
			}
			if _, seen := visited[next]; !seen {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// TopologicalOrder returns every task ID such that each prerequisite
// precedes all of its dependents. Kahn's algorithm with the zero-indegree
// frontier kept sorted, so ties break by ascending ID and repeated calls on
// an unchanged graph return an identical sequence.
//
// ErrCycle is a safety net only: edges are validated on insertion, so a
// cycle here indicates graph corruption, not bad user input.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.deps))
	var frontier []string
	for id, deps := range g.deps {
		indeg[id] = len(deps)
		if len(deps) == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(g.deps))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		for _, succ := range g.Successors(id) {
			indeg[succ]--
			if indeg[succ] == 0 {
				i := sort.SearchStrings(frontier, succ)
				frontier = append(frontier, "")
				copy(frontier[i+1:], frontier[i:])
				frontier[i] = succ
			}
		}
	}

	if len(order) != len(g.deps) {
		return nil, ErrCycle
	}
	return order, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
