package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask("t1", "open settings")

	if task.TaskID != "t1" {
		t.Errorf("TaskID = %q, want %q", task.TaskID, "t1")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestTask_Clone(t *testing.T) {
	start := time.Now().UTC()
	task := NewTask("t1", "capture screenshot")
	task.RequiredFeatures = []string{"gui"}
	task.ExecutionStartTime = &start

	clone := task.Clone()
	clone.RequiredFeatures[0] = "shell"
	*clone.ExecutionStartTime = start.Add(time.Hour)

	if task.RequiredFeatures[0] != "gui" {
		t.Error("clone shares RequiredFeatures slice with original")
	}
	if !task.ExecutionStartTime.Equal(start) {
		t.Error("clone shares ExecutionStartTime pointer with original")
	}
}

func TestDeviceInfo_SupportsFeature(t *testing.T) {
	dev := DeviceInfo{
		DeviceID:          "dev-1",
		SupportedFeatures: []string{"gui", "shell"},
	}

	if !dev.SupportsFeature("gui") {
		t.Error("expected gui to be supported")
	}
	if dev.SupportsFeature("mobile_touch") {
		t.Error("expected mobile_touch to be unsupported")
	}
}
