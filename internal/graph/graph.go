// Package graph owns the task graph for a constellation: id-keyed tasks and
// dependency edges, structural mutation, and dependency-satisfaction queries.
//
// All operations are pure data operations with no side effects beyond the
// owned constellation. The graph is not safe for concurrent use; callers
// route every mutation through the orchestrator's synchronizer.
package graph

import (
	"fmt"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

// Graph is the mutable task graph over one constellation. Relationships are
// stored only as id-keyed adjacency maps; tasks never reference each other
// directly.
type Graph struct {
	c *models.Constellation
	// outgoing maps task id to line ids of edges leaving it.
	outgoing map[string][]string
	// incoming maps task id to line ids of edges entering it.
	incoming map[string][]string
}

// New builds a graph over the given constellation, validating that every
// edge references an existing task and that the edge set is acyclic.
func New(c *models.Constellation) (*Graph, error) {
	g := &Graph{
		c:        c,
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
	for id := range c.Tasks {
		g.outgoing[id] = nil
		g.incoming[id] = nil
	}
	for lineID, dep := range c.Dependencies {
		if _, ok := c.Tasks[dep.FromTaskID]; !ok {
			return nil, fmt.Errorf("dependency %s: %w: %s", lineID, ErrTaskNotFound, dep.FromTaskID)
		}
		if _, ok := c.Tasks[dep.ToTaskID]; !ok {
			return nil, fmt.Errorf("dependency %s: %w: %s", lineID, ErrTaskNotFound, dep.ToTaskID)
		}
		g.outgoing[dep.FromTaskID] = append(g.outgoing[dep.FromTaskID], lineID)
		g.incoming[dep.ToTaskID] = append(g.incoming[dep.ToTaskID], lineID)
	}
	if g.hasCycle() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// Constellation returns the constellation this graph owns.
func (g *Graph) Constellation() *models.Constellation {
	return g.c
}

// Task returns the task with the given id, or nil if not present.
func (g *Graph) Task(id string) *models.Task {
	return g.c.Tasks[id]
}

// Dependency returns the edge with the given line id, or nil if not present.
func (g *Graph) Dependency(lineID string) *models.Dependency {
	return g.c.Dependencies[lineID]
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int {
	return len(g.c.Tasks)
}

// AddTask inserts a task. Fails if a task with the same id already exists.
func (g *Graph) AddTask(t *models.Task) error {
	if t.TaskID == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidTask)
	}
	if _, exists := g.c.Tasks[t.TaskID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.TaskID)
	}
	g.c.Tasks[t.TaskID] = t
	g.outgoing[t.TaskID] = nil
	g.incoming[t.TaskID] = nil
	g.touch()
	return nil
}

// RemoveTask deletes a task and cascades removal of every edge touching it.
// Returns the removed task and edges so the caller can invert the operation.
func (g *Graph) RemoveTask(id string) (*models.Task, []*models.Dependency, error) {
	task, ok := g.c.Tasks[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	touching := append(append([]string(nil), g.incoming[id]...), g.outgoing[id]...)
	var removed []*models.Dependency
	for _, lineID := range touching {
		if dep, ok := g.c.Dependencies[lineID]; ok {
			removed = append(removed, dep)
			g.detachEdge(dep)
		}
	}

	delete(g.c.Tasks, id)
	delete(g.incoming, id)
	delete(g.outgoing, id)
	g.touch()
	return task, removed, nil
}

// AddDependency inserts an edge. Fails with ErrCycleDetected, leaving the
// graph unchanged, if the edge would create a cycle. Cycle detection is a
// reachability search from the edge's to-task back to its from-task over
// the existing edge set.
func (g *Graph) AddDependency(d *models.Dependency) error {
	if d.LineID == "" {
		return fmt.Errorf("%w: empty line id", ErrInvalidDependency)
	}
	if _, exists := g.c.Dependencies[d.LineID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLine, d.LineID)
	}
	if _, ok := g.c.Tasks[d.FromTaskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, d.FromTaskID)
	}
	if _, ok := g.c.Tasks[d.ToTaskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, d.ToTaskID)
	}
	if d.FromTaskID == d.ToTaskID {
		return fmt.Errorf("%w: self dependency on %s", ErrCycleDetected, d.FromTaskID)
	}
	if g.reachable(d.ToTaskID, d.FromTaskID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, d.FromTaskID, d.ToTaskID)
	}

	g.c.Dependencies[d.LineID] = d
	g.outgoing[d.FromTaskID] = append(g.outgoing[d.FromTaskID], d.LineID)
	g.incoming[d.ToTaskID] = append(g.incoming[d.ToTaskID], d.LineID)
	g.touch()
	return nil
}

// RemoveDependency deletes an edge. Returns the removed edge so the caller
// can invert the operation.
func (g *Graph) RemoveDependency(lineID string) (*models.Dependency, error) {
	dep, ok := g.c.Dependencies[lineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	g.detachEdge(dep)
	g.touch()
	return dep, nil
}

// SetTaskStatus transitions a task and records its result or error payload.
// Execution timestamps are maintained here: running sets the start time, a
// terminal status sets the end time.
func (g *Graph) SetTaskStatus(id string, status models.TaskStatus, result, errMsg string) error {
	task, ok := g.c.Tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidTask, status)
	}

	now := time.Now().UTC()
	task.Status = status
	task.UpdatedAt = now
	if result != "" {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	switch {
	case status == models.TaskStatusRunning:
		task.ExecutionStartTime = &now
		task.PendingReason = ""
	case status.Terminal():
		task.ExecutionEndTime = &now
	}
	g.touch()
	return nil
}

// Incoming returns the edges entering the given task.
func (g *Graph) Incoming(taskID string) []*models.Dependency {
	return g.edges(g.incoming[taskID])
}

// Outgoing returns the edges leaving the given task.
func (g *Graph) Outgoing(taskID string) []*models.Dependency {
	return g.edges(g.outgoing[taskID])
}

// Dependents returns the ids of tasks directly gated by the given task.
func (g *Graph) Dependents(taskID string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, dep := range g.Outgoing(taskID) {
		if !seen[dep.ToTaskID] {
			seen[dep.ToTaskID] = true
			ids = append(ids, dep.ToTaskID)
		}
	}
	return ids
}

// Dependencies returns the ids of tasks the given task is gated by.
func (g *Graph) Dependencies(taskID string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, dep := range g.Incoming(taskID) {
		if !seen[dep.FromTaskID] {
			seen[dep.FromTaskID] = true
			ids = append(ids, dep.FromTaskID)
		}
	}
	return ids
}

func (g *Graph) edges(lineIDs []string) []*models.Dependency {
	deps := make([]*models.Dependency, 0, len(lineIDs))
	for _, lineID := range lineIDs {
		if dep, ok := g.c.Dependencies[lineID]; ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

func (g *Graph) detachEdge(dep *models.Dependency) {
	delete(g.c.Dependencies, dep.LineID)
	g.outgoing[dep.FromTaskID] = removeString(g.outgoing[dep.FromTaskID], dep.LineID)
	g.incoming[dep.ToTaskID] = removeString(g.incoming[dep.ToTaskID], dep.LineID)
}

// WouldCycle reports whether adding an edge from -> to would create a cycle,
// without mutating the graph. Used by command pre-validation.
func (g *Graph) WouldCycle(from, to string) bool {
	return from == to || g.reachable(to, from)
}

// reachable reports whether target can be reached from start by following
// edges in their from -> to direction.
func (g *Graph) reachable(start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, lineID := range g.outgoing[id] {
			dep, ok := g.c.Dependencies[lineID]
			if !ok {
				continue
			}
			if dep.ToTaskID == target {
				return true
			}
			stack = append(stack, dep.ToTaskID)
		}
	}
	return false
}

// hasCycle detects a cycle with depth-first search using three colors to
// spot back edges.
func (g *Graph) hasCycle() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.c.Tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, lineID := range g.outgoing[id] {
			dep, ok := g.c.Dependencies[lineID]
			if !ok {
				continue
			}
			switch colors[dep.ToTaskID] {
			case 1:
				return true
			case 0:
				if visit(dep.ToTaskID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.c.Tasks {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

func (g *Graph) touch() {
	g.c.UpdatedAt = time.Now().UTC()
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
