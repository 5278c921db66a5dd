package editor

import (
	"fmt"

	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/pkg/models"
)

// AddTask inserts a new task into the graph.
type AddTask struct {
	Task *models.Task

	executed bool
	undone   bool
}

// Name implements Command.
func (c *AddTask) Name() string { return "add_task" }

// CanExecute implements Command.
func (c *AddTask) CanExecute(g *graph.Graph) bool {
	return c.CannotExecuteReason(g) == ""
}

// CannotExecuteReason implements Command.
func (c *AddTask) CannotExecuteReason(g *graph.Graph) string {
	if c.Task == nil || c.Task.TaskID == "" {
		return "add_task requires a task with a non-empty task_id"
	}
	if g.Task(c.Task.TaskID) != nil {
		return fmt.Sprintf("task %s already exists; choose a new task_id", c.Task.TaskID)
	}
	return ""
}

// Execute implements Command.
func (c *AddTask) Execute(g *graph.Graph) error {
	if err := g.AddTask(c.Task); err != nil {
		return err
	}
	c.executed = true
	c.undone = false
	return nil
}

// Undo removes the added task.
func (c *AddTask) Undo(g *graph.Graph) error {
	if !c.CanUndo() {
		return fmt.Errorf("add_task %s: nothing to undo", c.Task.TaskID)
	}
	if _, _, err := g.RemoveTask(c.Task.TaskID); err != nil {
		return err
	}
	c.undone = true
	return nil
}

// CanUndo implements Undoable.
func (c *AddTask) CanUndo() bool { return c.executed && !c.undone }

// IsExecuted implements Undoable.
func (c *AddTask) IsExecuted() bool { return c.executed }

func (c *AddTask) notify(ev *graph.Evaluator, forward bool) {
	if forward {
		ev.TaskAdded(c.Task.TaskID)
	} else {
		ev.TaskRemoved(c.Task.TaskID, nil)
	}
}

// RemoveTask deletes a task, cascading removal of every edge touching it.
type RemoveTask struct {
	TaskID string

	removedTask  *models.Task
	removedEdges []*models.Dependency
	executed     bool
	undone       bool
}

// Name implements Command.
func (c *RemoveTask) Name() string { return "remove_task" }

// CanExecute implements Command.
func (c *RemoveTask) CanExecute(g *graph.Graph) bool {
	return c.CannotExecuteReason(g) == ""
}

// CannotExecuteReason implements Command.
func (c *RemoveTask) CannotExecuteReason(g *graph.Graph) string {
	task := g.Task(c.TaskID)
	if task == nil {
		return fmt.Sprintf("task %s does not exist", c.TaskID)
	}
	if task.Status == models.TaskStatusRunning {
		return fmt.Sprintf("task %s is running on a device; cancel it before removing", c.TaskID)
	}
	return ""
}

// Execute implements Command.
func (c *RemoveTask) Execute(g *graph.Graph) error {
	task, edges, err := g.RemoveTask(c.TaskID)
	if err != nil {
		return err
	}
	c.removedTask = task
	c.removedEdges = edges
	c.executed = true
	c.undone = false
	return nil
}

// Undo reinserts the removed task and its cascaded edges.
func (c *RemoveTask) Undo(g *graph.Graph) error {
	if !c.CanUndo() {
		return fmt.Errorf("remove_task %s: nothing to undo", c.TaskID)
	}
	if err := g.AddTask(c.removedTask); err != nil {
		return err
	}
	for _, dep := range c.removedEdges {
		if err := g.AddDependency(dep); err != nil {
			return fmt.Errorf("restore edge %s: %w", dep.LineID, err)
		}
	}
	c.undone = true
	return nil
}

// CanUndo implements Undoable.
func (c *RemoveTask) CanUndo() bool { return c.executed && !c.undone }

// IsExecuted implements Undoable.
func (c *RemoveTask) IsExecuted() bool { return c.executed }

func (c *RemoveTask) notify(ev *graph.Evaluator, forward bool) {
	if forward {
		ev.TaskRemoved(c.TaskID, c.removedEdges)
	} else {
		ev.TaskAdded(c.TaskID)
		for _, dep := range c.removedEdges {
			ev.EdgeAdded(dep.LineID)
		}
	}
}

// AddDependency inserts a new edge into the graph.
type AddDependency struct {
	Dependency *models.Dependency

	executed bool
	undone   bool
}

// Name implements Command.
func (c *AddDependency) Name() string { return "add_dependency" }

// CanExecute implements Command.
func (c *AddDependency) CanExecute(g *graph.Graph) bool {
	return c.CannotExecuteReason(g) == ""
}

// CannotExecuteReason implements Command.
func (c *AddDependency) CannotExecuteReason(g *graph.Graph) string {
	d := c.Dependency
	if d == nil || d.LineID == "" {
		return "add_dependency requires a dependency with a non-empty line_id"
	}
	if g.Dependency(d.LineID) != nil {
		return fmt.Sprintf("dependency %s already exists; choose a new line_id", d.LineID)
	}
	if g.Task(d.FromTaskID) == nil {
		return fmt.Sprintf("from_task_id %s does not exist", d.FromTaskID)
	}
	if g.Task(d.ToTaskID) == nil {
		return fmt.Sprintf("to_task_id %s does not exist", d.ToTaskID)
	}
	if !d.DependencyType.Valid() {
		return fmt.Sprintf("unknown dependency_type %q", d.DependencyType)
	}
	if g.WouldCycle(d.FromTaskID, d.ToTaskID) {
		return fmt.Sprintf("edge %s -> %s would create a circular dependency; reverse it or pick a different predecessor",
			d.FromTaskID, d.ToTaskID)
	}
	return ""
}

// Execute implements Command.
func (c *AddDependency) Execute(g *graph.Graph) error {
	if err := g.AddDependency(c.Dependency); err != nil {
		return err
	}
	c.executed = true
	c.undone = false
	return nil
}

// Undo removes the added edge.
func (c *AddDependency) Undo(g *graph.Graph) error {
	if !c.CanUndo() {
		return fmt.Errorf("add_dependency %s: nothing to undo", c.Dependency.LineID)
	}
	if _, err := g.RemoveDependency(c.Dependency.LineID); err != nil {
		return err
	}
	c.undone = true
	return nil
}

// CanUndo implements Undoable.
func (c *AddDependency) CanUndo() bool { return c.executed && !c.undone }

// IsExecuted implements Undoable.
func (c *AddDependency) IsExecuted() bool { return c.executed }

func (c *AddDependency) notify(ev *graph.Evaluator, forward bool) {
	if forward {
		ev.EdgeAdded(c.Dependency.LineID)
	} else {
		ev.EdgeRemoved(c.Dependency)
	}
}

// RemoveDependency deletes an edge from the graph.
type RemoveDependency struct {
	LineID string

	removed  *models.Dependency
	executed bool
	undone   bool
}

// Name implements Command.
func (c *RemoveDependency) Name() string { return "remove_dependency" }

// CanExecute implements Command.
func (c *RemoveDependency) CanExecute(g *graph.Graph) bool {
	return c.CannotExecuteReason(g) == ""
}

// CannotExecuteReason implements Command.
func (c *RemoveDependency) CannotExecuteReason(g *graph.Graph) string {
	if g.Dependency(c.LineID) == nil {
		return fmt.Sprintf("dependency %s does not exist", c.LineID)
	}
	return ""
}

// Execute implements Command.
func (c *RemoveDependency) Execute(g *graph.Graph) error {
	dep, err := g.RemoveDependency(c.LineID)
	if err != nil {
		return err
	}
	c.removed = dep
	c.executed = true
	c.undone = false
	return nil
}

// Undo reinserts the removed edge.
func (c *RemoveDependency) Undo(g *graph.Graph) error {
	if !c.CanUndo() {
		return fmt.Errorf("remove_dependency %s: nothing to undo", c.LineID)
	}
	if err := g.AddDependency(c.removed); err != nil {
		return err
	}
	c.undone = true
	return nil
}

// CanUndo implements Undoable.
func (c *RemoveDependency) CanUndo() bool { return c.executed && !c.undone }

// IsExecuted implements Undoable.
func (c *RemoveDependency) IsExecuted() bool { return c.executed }

func (c *RemoveDependency) notify(ev *graph.Evaluator, forward bool) {
	if forward {
		ev.EdgeRemoved(c.removed)
	} else {
		ev.EdgeAdded(c.removed.LineID)
	}
}
