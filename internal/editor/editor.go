package editor

import (
	"fmt"
	"log/slog"

	"github.com/orbitalworks/constellation/internal/graph"
)

// Outcome reports the result of applying one command.
type Outcome struct {
	// Command is the operation that was attempted.
	Command Command
	// Applied is true if the command mutated the graph.
	Applied bool
	// Reason is the diagnostic for a rejected command, suitable for
	// returning verbatim to the planning oracle.
	Reason string
}

// Editor validates and applies commands against one graph, keeping an undo
// history. The editor itself performs no locking; the orchestrator invokes
// it inside the synchronizer's exclusive section.
type Editor struct {
	g       *graph.Graph
	ev      *graph.Evaluator
	history []Undoable
	log     *slog.Logger
}

// New creates an editor over the given graph and evaluator.
func New(g *graph.Graph, ev *graph.Evaluator, log *slog.Logger) *Editor {
	if log == nil {
		log = slog.Default()
	}
	return &Editor{g: g, ev: ev, log: log}
}

// Apply validates and executes a single command. Validation failures are
// returned in the outcome, not as errors: a rejected command is normal
// planner traffic. The returned error covers only internal faults where
// validation passed but execution failed, which indicates a bug.
func (e *Editor) Apply(cmd Command) (Outcome, error) {
	out := Outcome{Command: cmd}

	if reason := cmd.CannotExecuteReason(e.g); reason != "" {
		out.Reason = reason
		e.log.Debug("command rejected", "command", cmd.Name(), "reason", reason)
		return out, nil
	}

	if err := cmd.Execute(e.g); err != nil {
		if graph.IsStructural(err) {
			// The graph refused the mutation; that is a rejection for the
			// oracle, not an internal fault.
			out.Reason = err.Error()
			e.log.Debug("command rejected at execute", "command", cmd.Name(), "reason", out.Reason)
			return out, nil
		}
		return out, fmt.Errorf("execute %s after validation: %w", cmd.Name(), err)
	}
	cmd.notify(e.ev, true)

	if u, ok := cmd.(Undoable); ok {
		e.history = append(e.history, u)
	}
	out.Applied = true
	e.log.Debug("command applied", "command", cmd.Name())
	return out, nil
}

// ApplyAll applies commands in order, stopping at the first rejection or
// failure. Outcomes for every attempted command are returned so the oracle
// sees exactly how far its proposal got.
func (e *Editor) ApplyAll(cmds []Command) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(cmds))
	for _, cmd := range cmds {
		out, err := e.Apply(cmd)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
		if !out.Applied {
			break
		}
	}
	return outcomes, nil
}

// UndoLast reverses the most recent applied command. Returns false if the
// history is empty.
func (e *Editor) UndoLast() (bool, error) {
	for len(e.history) > 0 {
		last := e.history[len(e.history)-1]
		e.history = e.history[:len(e.history)-1]
		if !last.CanUndo() {
			continue
		}
		if err := last.Undo(e.g); err != nil {
			return false, fmt.Errorf("undo %s: %w", last.Name(), err)
		}
		last.notify(e.ev, false)
		return true, nil
	}
	return false, nil
}

// HistoryLen returns the number of undoable commands recorded.
func (e *Editor) HistoryLen() int {
	return len(e.history)
}
