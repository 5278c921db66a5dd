package report

import (
	"strings"
	"testing"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

func finishedConstellation() *models.Constellation {
	c := models.NewConstellation("c1", "nightly-sweep")
	c.State = models.StatePartiallyFailed
	c.LLMSource = "claude"

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	c.ExecutionStartTime = &start
	c.ExecutionEndTime = &end

	a := models.NewTask("a", "collect-logs")
	a.Status = models.TaskStatusCompleted
	aStart := start
	aEnd := start.Add(30 * time.Second)
	a.ExecutionStartTime = &aStart
	a.ExecutionEndTime = &aEnd

	b := models.NewTask("b", "upload-bundle")
	b.Status = models.TaskStatusFailed
	b.Error = "device went offline mid-transfer"
	bStart := start.Add(30 * time.Second)
	b.ExecutionStartTime = &bStart

	p := models.NewTask("p", "notify-owner")
	p.Status = models.TaskStatusPending
	p.PendingReason = "waiting on dependencies"

	c.Tasks["a"] = a
	c.Tasks["b"] = b
	c.Tasks["p"] = p
	c.Dependencies["l1"] = models.NewDependency("l1", "a", "b")
	c.Dependencies["l2"] = models.NewDependency("l2", "b", "p")
	return c
}

func TestRender_IncludesSummaryAndTasks(t *testing.T) {
	out := NewRenderer().Render(finishedConstellation())

	for _, want := range []string{
		"nightly-sweep",
		"c1",
		string(models.StatePartiallyFailed),
		"claude",
		"1m30s",
		"3 total",
		"1 completed",
		"1 failed",
		"1 pending",
		"collect-logs",
		"upload-bundle",
		"notify-owner",
		"device went offline mid-transfer",
		"waiting on dependencies",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestRender_OrdersByExecutionStart(t *testing.T) {
	out := NewRenderer().Render(finishedConstellation())

	iA := strings.Index(out, "collect-logs")
	iB := strings.Index(out, "upload-bundle")
	iP := strings.Index(out, "notify-owner")
	if !(iA < iB && iB < iP) {
		t.Fatalf("expected collect-logs < upload-bundle < notify-owner, got %d %d %d", iA, iB, iP)
	}
}

func TestRender_DependencyCounts(t *testing.T) {
	out := NewRenderer().Render(finishedConstellation())
	if !strings.Contains(out, "[1 deps]") {
		t.Fatalf("expected dependency annotation, got:\n%s", out)
	}
}

func TestRender_EmptyConstellation(t *testing.T) {
	c := models.NewConstellation("c2", "blank")
	out := NewRenderer().Render(c)
	if !strings.Contains(out, "blank") || !strings.Contains(out, "0 total") {
		t.Fatalf("unexpected report for empty constellation:\n%s", out)
	}
}
