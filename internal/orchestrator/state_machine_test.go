package orchestrator

import (
	"testing"

	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/pkg/models"
)

func newMachine(t *testing.T) (*StateMachine, *graph.Graph) {
	t.Helper()
	c := models.NewConstellation("c1", "sm test")
	g, err := graph.New(c)
	if err != nil {
		t.Fatal(err)
	}
	return NewStateMachine(g), g
}

func TestStateMachine_HappyPath(t *testing.T) {
	sm, g := newMachine(t)

	if got := sm.State(); got != models.StateCreated {
		t.Fatalf("initial state = %s, want created", got)
	}

	g.AddTask(models.NewTask("A", "A"))
	if got := sm.TaskAdded(); got != models.StateReady {
		t.Fatalf("TaskAdded() = %q, want ready", got)
	}
	// A second add while ready is not a transition.
	g.AddTask(models.NewTask("B", "B"))
	if got := sm.TaskAdded(); got != "" {
		t.Errorf("TaskAdded() while ready = %q, want no change", got)
	}

	if got := sm.FirstDispatch(); got != models.StateExecuting {
		t.Fatalf("FirstDispatch() = %q, want executing", got)
	}
	if g.Constellation().ExecutionStartTime == nil {
		t.Error("execution start time not stamped")
	}

	// Not terminal while B is still pending.
	g.SetTaskStatus("A", models.TaskStatusCompleted, "ok", "")
	if got := sm.CheckTerminal(); got != "" {
		t.Fatalf("CheckTerminal() with pending task = %q, want none", got)
	}

	g.SetTaskStatus("B", models.TaskStatusCompleted, "ok", "")
	if got := sm.CheckTerminal(); got != models.StateCompleted {
		t.Fatalf("CheckTerminal() = %q, want completed", got)
	}
	if g.Constellation().ExecutionEndTime == nil {
		t.Error("execution end time not stamped")
	}
}

func TestStateMachine_EmptyGraphNeverTerminal(t *testing.T) {
	sm, g := newMachine(t)
	g.Constellation().State = models.StateExecuting
	if got := sm.CheckTerminal(); got != "" {
		t.Errorf("CheckTerminal() on empty graph = %q, want none", got)
	}
}

func TestStateMachine_FailedTaskMeansPartiallyFailed(t *testing.T) {
	sm, g := newMachine(t)
	g.AddTask(models.NewTask("A", "A"))
	g.AddTask(models.NewTask("B", "B"))
	sm.TaskAdded()
	sm.FirstDispatch()

	g.SetTaskStatus("A", models.TaskStatusCompleted, "", "")
	g.SetTaskStatus("B", models.TaskStatusFailed, "", "boom")
	if got := sm.CheckTerminal(); got != models.StatePartiallyFailed {
		t.Errorf("CheckTerminal() = %q, want partially_failed", got)
	}
}

func TestStateMachine_CancelledCountsAsResolved(t *testing.T) {
	sm, g := newMachine(t)
	g.AddTask(models.NewTask("A", "A"))
	sm.TaskAdded()
	sm.FirstDispatch()

	g.SetTaskStatus("A", models.TaskStatusCancelled, "", "")
	if got := sm.CheckTerminal(); got != models.StateCompleted {
		t.Errorf("CheckTerminal() = %q, want completed (cancelled resolves)", got)
	}
}

func TestStateMachine_CompletedRevertsToExecuting(t *testing.T) {
	sm, g := newMachine(t)
	g.AddTask(models.NewTask("A", "A"))
	sm.TaskAdded()
	sm.FirstDispatch()
	g.SetTaskStatus("A", models.TaskStatusCompleted, "", "")
	sm.CheckTerminal()

	g.AddTask(models.NewTask("B", "B"))
	if got := sm.TaskAdded(); got != models.StateExecuting {
		t.Fatalf("TaskAdded() after completion = %q, want executing", got)
	}
	if g.Constellation().ExecutionEndTime != nil {
		t.Error("execution end time should be cleared by the revert")
	}
}

func TestStateMachine_InvalidTransitionsRejected(t *testing.T) {
	tests := []struct {
		name string
		from models.ConstellationState
		to   models.ConstellationState
	}{
		{"created to executing", models.StateCreated, models.StateExecuting},
		{"created to completed", models.StateCreated, models.StateCompleted},
		{"ready to completed", models.StateReady, models.StateCompleted},
		{"failed to executing", models.StateFailed, models.StateExecuting},
		{"partially_failed to completed", models.StatePartiallyFailed, models.StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, g := newMachine(t)
			g.Constellation().State = tt.from
			if err := sm.transition(tt.to); err == nil {
				t.Errorf("transition(%s -> %s) succeeded, want rejection", tt.from, tt.to)
			}
			if got := sm.State(); got != tt.from {
				t.Errorf("state mutated to %s by rejected transition", got)
			}
		})
	}
}

func TestStateMachine_DeclareFailed(t *testing.T) {
	sm, g := newMachine(t)
	g.AddTask(models.NewTask("A", "A"))
	sm.TaskAdded()
	sm.FirstDispatch()

	if err := sm.DeclareFailed(); err != nil {
		t.Fatalf("DeclareFailed() error = %v", err)
	}
	if got := sm.State(); got != models.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	// failed is terminal; nothing reopens it.
	if got := sm.TaskAdded(); got != "" {
		t.Errorf("TaskAdded() on failed = %q, want no change", got)
	}
}
