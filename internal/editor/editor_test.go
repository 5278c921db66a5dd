package editor

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/pkg/models"
)

func newEditor(t *testing.T) (*Editor, *graph.Graph, *graph.Evaluator) {
	t.Helper()
	g, err := graph.New(models.NewConstellation("c1", "test"))
	if err != nil {
		t.Fatal(err)
	}
	ev := graph.NewEvaluator(g, nil)
	return New(g, ev, nil), g, ev
}

func seedTasks(t *testing.T, e *Editor, ids ...string) {
	t.Helper()
	for _, id := range ids {
		out, err := e.Apply(&AddTask{Task: models.NewTask(id, "task "+id)})
		if err != nil || !out.Applied {
			t.Fatalf("seed task %s: applied=%v err=%v reason=%q", id, out.Applied, err, out.Reason)
		}
	}
}

func snapshot(g *graph.Graph) ([]string, []string) {
	var tasks, deps []string
	for id := range g.Constellation().Tasks {
		tasks = append(tasks, id)
	}
	for id := range g.Constellation().Dependencies {
		deps = append(deps, id)
	}
	sort.Strings(tasks)
	sort.Strings(deps)
	return tasks, deps
}

func TestEditor_AddTask(t *testing.T) {
	e, g, ev := newEditor(t)
	seedTasks(t, e, "a")

	if g.Task("a") == nil {
		t.Error("task a should be in the graph")
	}
	if !ev.IsReady("a") {
		t.Error("a has no gates and should be ready")
	}
}

func TestEditor_AddTask_DuplicateRejected(t *testing.T) {
	e, g, _ := newEditor(t)
	seedTasks(t, e, "a")

	out, err := e.Apply(&AddTask{Task: models.NewTask("a", "again")})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Applied {
		t.Error("duplicate add should be rejected")
	}
	if out.Reason == "" {
		t.Error("rejection must carry an actionable reason")
	}
	if g.Size() != 1 {
		t.Errorf("Size() = %d, want 1", g.Size())
	}
}

func TestEditor_OutcomeCarriesCommand(t *testing.T) {
	e, _, _ := newEditor(t)

	cmd := &AddTask{Task: models.NewTask("a", "task a")}
	out, err := e.Apply(cmd)
	if err != nil || !out.Applied {
		t.Fatalf("Apply() applied=%v err=%v", out.Applied, err)
	}
	if out.Command != Command(cmd) {
		t.Error("outcome must carry the command that produced it")
	}
	if out.Command.Name() != "add_task" {
		t.Errorf("Command.Name() = %q, want add_task", out.Command.Name())
	}
	if added, ok := out.Command.(*AddTask); !ok || added.Task.TaskID != "a" {
		t.Errorf("Command type assertion = (%v, %v), want the applied AddTask", added, ok)
	}

	out, err = e.Apply(&AddDependency{Dependency: models.NewDependency("l1", "a", "ghost")})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Applied || out.Command.Name() != "add_dependency" {
		t.Errorf("rejected outcome = applied=%v command=%q, want intact add_dependency command",
			out.Applied, out.Command.Name())
	}
}

func TestEditor_AddDependency_CycleRejectedUnchanged(t *testing.T) {
	e, g, _ := newEditor(t)
	seedTasks(t, e, "a", "b")
	if out, _ := e.Apply(&AddDependency{Dependency: models.NewDependency("l1", "a", "b")}); !out.Applied {
		t.Fatalf("seed edge rejected: %s", out.Reason)
	}

	tasksBefore, depsBefore := snapshot(g)

	cmd := &AddDependency{Dependency: models.NewDependency("l2", "b", "a")}
	if cmd.CanExecute(g) {
		t.Error("CanExecute() must be false for a cycle-creating edge")
	}
	out, err := e.Apply(cmd)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Applied {
		t.Error("cycle-creating edge must be rejected")
	}
	if out.Reason == "" {
		t.Error("rejection must carry a descriptive reason")
	}

	tasksAfter, depsAfter := snapshot(g)
	if !reflect.DeepEqual(tasksBefore, tasksAfter) || !reflect.DeepEqual(depsBefore, depsAfter) {
		t.Error("rejected command mutated the graph")
	}
}

func TestEditor_AddDependency_MissingEndpointReason(t *testing.T) {
	e, _, _ := newEditor(t)
	seedTasks(t, e, "a")

	out, err := e.Apply(&AddDependency{Dependency: models.NewDependency("l1", "a", "ghost")})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Applied || out.Reason == "" {
		t.Errorf("want rejection with reason, got applied=%v reason=%q", out.Applied, out.Reason)
	}
}

func TestEditor_RemoveTask_RunningRejected(t *testing.T) {
	e, g, _ := newEditor(t)
	seedTasks(t, e, "a")
	if err := g.SetTaskStatus("a", models.TaskStatusRunning, "", ""); err != nil {
		t.Fatal(err)
	}

	out, err := e.Apply(&RemoveTask{TaskID: "a"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Applied {
		t.Error("removing a running task must be rejected")
	}
}

func TestEditor_RemoveTask_UndoRestoresEdges(t *testing.T) {
	e, g, ev := newEditor(t)
	seedTasks(t, e, "a", "b", "c")
	for _, edge := range []*models.Dependency{
		models.NewDependency("l1", "a", "b"),
		models.NewDependency("l2", "b", "c"),
	} {
		if out, _ := e.Apply(&AddDependency{Dependency: edge}); !out.Applied {
			t.Fatalf("seed edge %s rejected: %s", edge.LineID, out.Reason)
		}
	}

	out, err := e.Apply(&RemoveTask{TaskID: "b"})
	if err != nil || !out.Applied {
		t.Fatalf("remove: applied=%v err=%v", out.Applied, err)
	}
	if g.Dependency("l1") != nil || g.Dependency("l2") != nil {
		t.Fatal("cascade should have removed both edges")
	}
	if !ev.IsReady("c") {
		t.Error("c should be ready after its gate chain is removed")
	}

	undone, err := e.UndoLast()
	if err != nil || !undone {
		t.Fatalf("UndoLast() = %v, %v", undone, err)
	}
	if g.Task("b") == nil || g.Dependency("l1") == nil || g.Dependency("l2") == nil {
		t.Error("undo should restore the task and its cascaded edges")
	}
	if ev.IsReady("c") {
		t.Error("c should be gated again after undo")
	}
}

func TestEditor_UndoAddTask(t *testing.T) {
	e, g, _ := newEditor(t)
	seedTasks(t, e, "a")

	undone, err := e.UndoLast()
	if err != nil || !undone {
		t.Fatalf("UndoLast() = %v, %v", undone, err)
	}
	if g.Task("a") != nil {
		t.Error("undo of add_task should remove the task")
	}

	undone, err = e.UndoLast()
	if err != nil {
		t.Fatalf("UndoLast() on empty history error = %v", err)
	}
	if undone {
		t.Error("empty history should report nothing undone")
	}
}

func TestEditor_ApplyAll_StopsAtRejection(t *testing.T) {
	e, g, _ := newEditor(t)

	cmds := []Command{
		&AddTask{Task: models.NewTask("a", "a")},
		&AddDependency{Dependency: models.NewDependency("l1", "a", "ghost")},
		&AddTask{Task: models.NewTask("b", "b")},
	}
	outcomes, err := e.ApplyAll(cmds)
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2 (stop at rejection)", len(outcomes))
	}
	if !outcomes[0].Applied || outcomes[1].Applied {
		t.Errorf("outcomes = %+v, want first applied and second rejected", outcomes)
	}
	if g.Task("b") != nil {
		t.Error("commands after a rejection must not run")
	}
}

func TestCommand_IsExecutedLifecycle(t *testing.T) {
	e, _, _ := newEditor(t)
	cmd := &AddTask{Task: models.NewTask("a", "a")}

	if cmd.IsExecuted() || cmd.CanUndo() {
		t.Error("fresh command must be unexecuted")
	}
	if out, err := e.Apply(cmd); err != nil || !out.Applied {
		t.Fatalf("apply: %+v, %v", out, err)
	}
	if !cmd.IsExecuted() || !cmd.CanUndo() {
		t.Error("applied command must report executed and undoable")
	}
	if _, err := e.UndoLast(); err != nil {
		t.Fatal(err)
	}
	if cmd.CanUndo() {
		t.Error("undone command must not be undoable again")
	}
}

// staleRemove validates clean but fails structurally at execute, standing in
// for a command whose target vanished between validation and mutation.
type staleRemove struct{}

func (staleRemove) Name() string                           { return "remove_task" }
func (staleRemove) CanExecute(*graph.Graph) bool           { return true }
func (staleRemove) CannotExecuteReason(*graph.Graph) string { return "" }
func (staleRemove) Execute(*graph.Graph) error {
	return fmt.Errorf("remove task ghost: %w", graph.ErrTaskNotFound)
}
func (staleRemove) notify(*graph.Evaluator, bool) {}

func TestEditor_StructuralExecuteFailureIsRejection(t *testing.T) {
	e, _, _ := newEditor(t)

	out, err := e.Apply(staleRemove{})
	if err != nil {
		t.Fatalf("Apply() error = %v, want structural failure returned as rejection", err)
	}
	if out.Applied {
		t.Error("structural execute failure must not count as applied")
	}
	if !strings.Contains(out.Reason, "task not found") {
		t.Errorf("Reason = %q, want the structural diagnostic", out.Reason)
	}
}
