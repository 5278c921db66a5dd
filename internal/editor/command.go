// Package editor applies validated, reversible edit operations to a task
// graph. Edits arrive from the planning oracle as commands; each command
// validates itself against the live graph before any mutation, and a
// rejected command leaves the graph untouched. Rejection reasons are
// returned as data so the oracle can read them and self-correct.
package editor

import (
	"github.com/orbitalworks/constellation/internal/graph"
)

// Command is one validated edit operation. The set of implementations is
// closed: add/remove task, add/remove dependency.
type Command interface {
	// Name identifies the operation for logging and diagnostics.
	Name() string
	// CanExecute reports whether the command would apply cleanly to g.
	CanExecute(g *graph.Graph) bool
	// CannotExecuteReason returns an actionable diagnostic when CanExecute
	// is false, and "" otherwise.
	CannotExecuteReason(g *graph.Graph) string
	// Execute applies the command to g. Implementations must not partially
	// mutate on failure.
	Execute(g *graph.Graph) error

	// notify propagates the applied mutation to the evaluator. forward is
	// false when the command is being undone.
	notify(ev *graph.Evaluator, forward bool)
}

// Undoable is a command that can invert itself after execution.
type Undoable interface {
	Command
	// Undo reverses a previously executed command.
	Undo(g *graph.Graph) error
	// CanUndo reports whether the command has been executed and not undone.
	CanUndo() bool
	// IsExecuted reports whether Execute has succeeded.
	IsExecuted() bool
}
