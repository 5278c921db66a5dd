package orchestrator

import (
	"fmt"
	"time"

	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/pkg/models"
)

// validTransitions is the lifecycle transition table. The one backward move,
// completed -> executing, covers an oracle adding work after the graph has
// already drained.
var validTransitions = map[models.ConstellationState][]models.ConstellationState{
	models.StateCreated:   {models.StateReady},
	models.StateReady:     {models.StateExecuting},
	models.StateExecuting: {models.StateCompleted, models.StateFailed, models.StatePartiallyFailed},
	models.StateCompleted: {models.StateExecuting},
}

// StateMachine derives a constellation's lifecycle state from task outcomes.
// All methods must be called inside the constellation's exclusive section;
// the state machine itself holds no lock.
type StateMachine struct {
	g *graph.Graph
}

// NewStateMachine creates a state machine over the given graph.
func NewStateMachine(g *graph.Graph) *StateMachine {
	return &StateMachine{g: g}
}

// State returns the current lifecycle state.
func (sm *StateMachine) State() models.ConstellationState {
	return sm.g.Constellation().State
}

// transition moves the constellation to the target state, or fails if the
// move is not in the table. A no-op when already in the target state.
func (sm *StateMachine) transition(to models.ConstellationState) error {
	c := sm.g.Constellation()
	if c.State == to {
		return nil
	}
	for _, allowed := range validTransitions[c.State] {
		if allowed == to {
			c.State = to
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", c.State, to)
}

// TaskAdded reacts to a task entering the graph. The first task moves
// created to ready; a task landing in an apparently finished graph reverts
// completed to executing. Returns the state if it changed, or "" if not.
func (sm *StateMachine) TaskAdded() models.ConstellationState {
	c := sm.g.Constellation()
	switch c.State {
	case models.StateCreated:
		if err := sm.transition(models.StateReady); err == nil {
			return models.StateReady
		}
	case models.StateCompleted:
		// New work after completion reopens execution. The revert must be
		// surfaced as a state change, not swallowed.
		if err := sm.transition(models.StateExecuting); err == nil {
			c.ExecutionEndTime = nil
			return models.StateExecuting
		}
	}
	return ""
}

// FirstDispatch reacts to the first task being handed to a device.
func (sm *StateMachine) FirstDispatch() models.ConstellationState {
	c := sm.g.Constellation()
	if c.State != models.StateReady {
		return ""
	}
	if err := sm.transition(models.StateExecuting); err != nil {
		return ""
	}
	now := time.Now().UTC()
	c.ExecutionStartTime = &now
	return models.StateExecuting
}

// CheckTerminal evaluates the terminal condition: every task in a terminal
// status, with cancelled counting as resolved. The caller holds the
// exclusive section, so this check cannot interleave with a concurrent add.
// Returns the terminal state entered, or "" if the constellation is still
// live.
func (sm *StateMachine) CheckTerminal() models.ConstellationState {
	c := sm.g.Constellation()
	if c.State != models.StateExecuting {
		return ""
	}
	if len(c.Tasks) == 0 {
		return ""
	}

	anyFailed := false
	for _, t := range c.Tasks {
		if !t.Status.Terminal() {
			return ""
		}
		if t.Status == models.TaskStatusFailed {
			anyFailed = true
		}
	}

	target := models.StateCompleted
	if anyFailed {
		target = models.StatePartiallyFailed
	}
	if err := sm.transition(target); err != nil {
		return ""
	}
	now := time.Now().UTC()
	c.ExecutionEndTime = &now
	return target
}

// DeclareFailed marks the constellation unrecoverable. Used when the
// operator or oracle gives up on remaining work.
func (sm *StateMachine) DeclareFailed() error {
	if err := sm.transition(models.StateFailed); err != nil {
		return err
	}
	c := sm.g.Constellation()
	now := time.Now().UTC()
	c.ExecutionEndTime = &now
	return nil
}
