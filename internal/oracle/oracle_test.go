package oracle

import (
	"strings"
	"testing"

	"github.com/orbitalworks/constellation/internal/editor"
	"github.com/orbitalworks/constellation/pkg/models"
)

func TestParseProposal_FullPlan(t *testing.T) {
	response := `Here is my plan for the request.

{
  "reasoning": "Open settings on the desktop, then confirm on the phone.",
  "edits": [
    {
      "op": "add_task",
      "task_id": "open-settings",
      "name": "Open settings",
      "description": "Open the system settings application",
      "priority": 2,
      "required_features": ["gui"],
      "required_device_type": "computer",
      "target_device_id": ""
    },
    {
      "op": "add_task",
      "task_id": "confirm-mobile",
      "name": "Confirm on phone",
      "description": "Tap the confirmation dialog",
      "required_features": ["mobile_touch"],
      "required_device_type": "mobile"
    },
    {
      "op": "add_dependency",
      "line_id": "l1",
      "from_task_id": "open-settings",
      "to_task_id": "confirm-mobile",
      "dependency_type": "conditional",
      "condition": "success"
    }
  ]
}

Let me know if you want changes.`

	p, err := ParseProposal(response)
	if err != nil {
		t.Fatalf("ParseProposal() error = %v", err)
	}
	if p.Reasoning == "" {
		t.Error("reasoning not captured")
	}
	if len(p.Commands) != 3 {
		t.Fatalf("len(Commands) = %d, want 3", len(p.Commands))
	}

	add, ok := p.Commands[0].(*editor.AddTask)
	if !ok {
		t.Fatalf("command 0 = %T, want *editor.AddTask", p.Commands[0])
	}
	if add.Task.TaskID != "open-settings" || add.Task.Priority != 2 {
		t.Errorf("task 0 = %+v", add.Task)
	}
	if add.Task.RequiredDeviceType != models.PlatformComputer {
		t.Errorf("task 0 device type = %s, want computer", add.Task.RequiredDeviceType)
	}

	dep, ok := p.Commands[2].(*editor.AddDependency)
	if !ok {
		t.Fatalf("command 2 = %T, want *editor.AddDependency", p.Commands[2])
	}
	if dep.Dependency.DependencyType != models.DependencyConditional {
		t.Errorf("edge type = %s, want conditional", dep.Dependency.DependencyType)
	}
	if dep.Dependency.ConditionDescription != "success" {
		t.Errorf("edge condition = %q, want success", dep.Dependency.ConditionDescription)
	}
}

func TestParseProposal_RemovalOps(t *testing.T) {
	response := `{"reasoning": "prune", "edits": [
		{"op": "remove_task", "task_id": "stale"},
		{"op": "remove_dependency", "line_id": "l9"}
	]}`

	p, err := ParseProposal(response)
	if err != nil {
		t.Fatalf("ParseProposal() error = %v", err)
	}
	if rm, ok := p.Commands[0].(*editor.RemoveTask); !ok || rm.TaskID != "stale" {
		t.Errorf("command 0 = %#v, want RemoveTask{stale}", p.Commands[0])
	}
	if rm, ok := p.Commands[1].(*editor.RemoveDependency); !ok || rm.LineID != "l9" {
		t.Errorf("command 1 = %#v, want RemoveDependency{l9}", p.Commands[1])
	}
}

func TestParseProposal_GeneratesMissingIDs(t *testing.T) {
	response := `{"reasoning": "r", "edits": [
		{"op": "add_task", "name": "anon task"}
	]}`

	p, err := ParseProposal(response)
	if err != nil {
		t.Fatalf("ParseProposal() error = %v", err)
	}
	add := p.Commands[0].(*editor.AddTask)
	if add.Task.TaskID == "" {
		t.Error("missing task_id should be filled with a generated id")
	}
}

func TestParseProposal_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantIn   string
	}{
		{"no json at all", "I cannot help with that.", "no JSON object"},
		{"invalid json", `{"reasoning": "r", "edits": [{"op": }`, "unmarshal"},
		{"empty edit list", `{"reasoning": "r", "edits": []}`, "no edits"},
		{"unknown op", `{"edits": [{"op": "merge_tasks", "task_id": "x"}]}`, "unknown op"},
		{"add_task without name", `{"edits": [{"op": "add_task", "task_id": "x"}]}`, "no name"},
		{"edge missing endpoint", `{"edits": [{"op": "add_dependency", "line_id": "l1", "from_task_id": "a"}]}`, "to_task_id"},
		{"removal missing id", `{"edits": [{"op": "remove_task"}]}`, "task_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProposal(tt.response)
			if err == nil {
				t.Fatal("ParseProposal() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error = %v, want substring %q", err, tt.wantIn)
			}
		})
	}
}
