// Package report renders a human-readable trajectory report for a finished
// (or still running) constellation. It is a pure observer: rendering never
// mutates the graph.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/orbitalworks/constellation/pkg/models"
)

// Renderer formats constellation snapshots for terminal display.
type Renderer struct {
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	successStyle lipgloss.Style
	failureStyle lipgloss.Style
	pendingStyle lipgloss.Style
	mutedStyle   lipgloss.Style
	borderStyle  lipgloss.Style
}

// NewRenderer creates a renderer with the default styles.
func NewRenderer() *Renderer {
	return &Renderer{
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")),

		failureStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")),

		mutedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),
	}
}

// Render returns the full trajectory report for a constellation snapshot.
func (r *Renderer) Render(c *models.Constellation) string {
	var b strings.Builder

	b.WriteString(r.headerStyle.Render(fmt.Sprintf("Constellation %s", c.Name)))
	b.WriteString("\n")
	b.WriteString(r.kv("ID", c.ConstellationID))
	b.WriteString(r.kv("State", r.stateLabel(c.State)))
	if c.LLMSource != "" {
		b.WriteString(r.kv("Planned by", c.LLMSource))
	}
	if d := c.ExecutionDuration(); d > 0 {
		b.WriteString(r.kv("Duration", d.Round(time.Millisecond).String()))
	}
	b.WriteString(r.kv("Tasks", r.taskTally(c)))
	b.WriteString("\n")

	for _, t := range orderedTasks(c) {
		b.WriteString(r.taskLine(c, t))
	}

	return r.borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (r *Renderer) kv(label, value string) string {
	return r.labelStyle.Render(label) + " " + r.valueStyle.Render(value) + "\n"
}

func (r *Renderer) stateLabel(s models.ConstellationState) string {
	switch s {
	case models.StateCompleted:
		return r.successStyle.Render(string(s))
	case models.StateFailed, models.StatePartiallyFailed:
		return r.failureStyle.Render(string(s))
	default:
		return r.pendingStyle.Render(string(s))
	}
}

func (r *Renderer) taskTally(c *models.Constellation) string {
	total := len(c.Tasks)
	byStatus := map[models.TaskStatus]int{}
	for _, t := range c.Tasks {
		byStatus[t.Status]++
	}
	parts := []string{fmt.Sprintf("%d total", total)}
	for _, s := range []models.TaskStatus{
		models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusCancelled, models.TaskStatusRunning, models.TaskStatusPending,
	} {
		if n := byStatus[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return strings.Join(parts, ", ")
}

func (r *Renderer) taskLine(c *models.Constellation, t *models.Task) string {
	var glyph string
	switch t.Status {
	case models.TaskStatusCompleted:
		glyph = r.successStyle.Render("✓")
	case models.TaskStatusFailed:
		glyph = r.failureStyle.Render("✗")
	case models.TaskStatusCancelled:
		glyph = r.mutedStyle.Render("⊘")
	case models.TaskStatusRunning:
		glyph = r.pendingStyle.Render("▶")
	default:
		glyph = r.pendingStyle.Render("·")
	}

	line := fmt.Sprintf("%s %s", glyph, t.Name)
	if d := taskDuration(t); d > 0 {
		line += r.mutedStyle.Render(fmt.Sprintf("  (%s)", d.Round(time.Millisecond)))
	}
	if deps := incomingCount(c, t.TaskID); deps > 0 {
		line += r.mutedStyle.Render(fmt.Sprintf("  [%d deps]", deps))
	}
	line += "\n"

	if t.Status == models.TaskStatusFailed && t.Error != "" {
		line += "    " + r.failureStyle.Render(t.Error) + "\n"
	}
	if t.Status == models.TaskStatusPending && t.PendingReason != "" {
		line += "    " + r.mutedStyle.Render(t.PendingReason) + "\n"
	}
	return line
}

func taskDuration(t *models.Task) time.Duration {
	if t.ExecutionStartTime == nil || t.ExecutionEndTime == nil {
		return 0
	}
	return t.ExecutionEndTime.Sub(*t.ExecutionStartTime)
}

func incomingCount(c *models.Constellation, taskID string) int {
	n := 0
	for _, d := range c.Dependencies {
		if d.ToTaskID == taskID {
			n++
		}
	}
	return n
}

// orderedTasks sorts tasks by execution start time, with never-dispatched
// tasks last, then by id for stability.
func orderedTasks(c *models.Constellation) []*models.Task {
	tasks := make([]*models.Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		si, sj := tasks[i].ExecutionStartTime, tasks[j].ExecutionStartTime
		switch {
		case si != nil && sj != nil && !si.Equal(*sj):
			return si.Before(*sj)
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
	return tasks
}
