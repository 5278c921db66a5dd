package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

// Predicate evaluates a conditional dependency's opaque condition against
// the upstream task. The condition syntax is deliberately pluggable; the
// evaluator only requires a boolean answer.
type Predicate interface {
	Evaluate(condition string, from *models.Task) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(condition string, from *models.Task) (bool, error)

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(condition string, from *models.Task) (bool, error) {
	return f(condition, from)
}

// DefaultPredicate is the built-in condition evaluator. It understands a
// small vocabulary over the upstream task's outcome:
//
//	""            upstream reached any terminal status
//	"success"     upstream completed
//	"failure"     upstream failed
//	"contains:X"  upstream is terminal and its result contains X
//
// Unknown conditions evaluate false with an error, which leaves the edge
// unsatisfied rather than wedging the graph.
func DefaultPredicate() Predicate {
	return PredicateFunc(func(condition string, from *models.Task) (bool, error) {
		if !from.Status.Terminal() {
			return false, nil
		}
		switch {
		case condition == "":
			return true, nil
		case condition == "success":
			return from.Status == models.TaskStatusCompleted, nil
		case condition == "failure":
			return from.Status == models.TaskStatusFailed, nil
		case strings.HasPrefix(condition, "contains:"):
			return strings.Contains(from.Result, strings.TrimPrefix(condition, "contains:")), nil
		default:
			return false, fmt.Errorf("unknown condition %q", condition)
		}
	})
}

// Evaluator maintains the ready set for a graph incrementally. It is
// notified of every status change and structural edit and re-evaluates only
// the tasks and edges the change can affect, never the whole graph.
//
// Like the graph it wraps, the evaluator is not safe for concurrent use;
// access is serialized by the orchestrator's synchronizer.
type Evaluator struct {
	g    *Graph
	pred Predicate
	// ready holds task ids currently eligible to run.
	ready map[string]bool
}

// NewEvaluator builds an evaluator over g and performs the one full initial
// computation. pred may be nil, in which case DefaultPredicate is used.
func NewEvaluator(g *Graph, pred Predicate) *Evaluator {
	if pred == nil {
		pred = DefaultPredicate()
	}
	e := &Evaluator{
		g:     g,
		pred:  pred,
		ready: make(map[string]bool),
	}
	for id := range g.Constellation().Tasks {
		e.refreshIncoming(id)
		e.recheck(id)
	}
	return e
}

// Ready returns the tasks currently eligible to run, ordered by descending
// priority and then by id for determinism.
func (e *Evaluator) Ready() []*models.Task {
	tasks := make([]*models.Task, 0, len(e.ready))
	for id := range e.ready {
		if t := e.g.Task(id); t != nil {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
	return tasks
}

// IsReady reports whether the given task is in the ready set.
func (e *Evaluator) IsReady(taskID string) bool {
	return e.ready[taskID]
}

// TaskChanged must be called after a task's status (or result) changes.
// It re-evaluates the edges leaving the task, then rechecks the task itself
// and every direct dependent.
func (e *Evaluator) TaskChanged(taskID string) {
	for _, dep := range e.g.Outgoing(taskID) {
		e.evaluateEdge(dep)
	}
	e.recheck(taskID)
	for _, depID := range e.g.Dependents(taskID) {
		e.recheck(depID)
	}
}

// TaskAdded must be called after a task is inserted.
func (e *Evaluator) TaskAdded(taskID string) {
	e.refreshIncoming(taskID)
	e.recheck(taskID)
}

// TaskRemoved must be called after a task is removed, with the edges that
// were cascaded away. Successors of the removed edges are rechecked since
// losing a gate can only widen the ready set.
func (e *Evaluator) TaskRemoved(taskID string, cascaded []*models.Dependency) {
	delete(e.ready, taskID)
	for _, dep := range cascaded {
		if dep.ToTaskID != taskID {
			e.recheck(dep.ToTaskID)
		}
	}
}

// EdgeAdded must be called after an edge is inserted.
func (e *Evaluator) EdgeAdded(lineID string) {
	dep := e.g.Dependency(lineID)
	if dep == nil {
		return
	}
	e.evaluateEdge(dep)
	e.recheck(dep.ToTaskID)
}

// EdgeRemoved must be called after an edge is removed.
func (e *Evaluator) EdgeRemoved(dep *models.Dependency) {
	e.recheck(dep.ToTaskID)
}

// evaluateEdge recomputes and caches an edge's satisfaction from its
// from-task's current state.
func (e *Evaluator) evaluateEdge(dep *models.Dependency) {
	from := e.g.Task(dep.FromTaskID)
	if from == nil {
		return
	}

	var satisfied bool
	switch dep.DependencyType {
	case models.DependencyConditional:
		ok, err := e.pred.Evaluate(dep.ConditionDescription, from)
		satisfied = err == nil && ok
	default:
		satisfied = from.Status == models.TaskStatusCompleted
	}

	now := time.Now().UTC()
	dep.IsSatisfied = satisfied
	dep.LastEvaluationResult = satisfied
	dep.LastEvaluationTime = &now
	dep.UpdatedAt = now
}

// refreshIncoming recomputes cached satisfaction for every edge entering a
// task. Used at build time and when a task first appears.
func (e *Evaluator) refreshIncoming(taskID string) {
	for _, dep := range e.g.Incoming(taskID) {
		e.evaluateEdge(dep)
	}
}

// recheck recomputes a single task's membership in the ready set: pending
// status and every incoming edge satisfied.
func (e *Evaluator) recheck(taskID string) {
	task := e.g.Task(taskID)
	if task == nil {
		delete(e.ready, taskID)
		return
	}
	if task.Status != models.TaskStatusPending {
		delete(e.ready, taskID)
		return
	}
	for _, dep := range e.g.Incoming(taskID) {
		if !dep.IsSatisfied {
			delete(e.ready, taskID)
			return
		}
	}
	e.ready[taskID] = true
}
