// Package models defines the shared data model for constellations:
// tasks, dependency lines, devices, and the wire-level result payload.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is executing on a device.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state. Terminal tasks are
// never re-dispatched and count toward the constellation's terminal check.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents one unit of work targeted at a device. Tasks never hold
// references to other tasks; all relationships live in the constellation's
// dependency set and are traversed by id.
type Task struct {
	// TaskID is the unique identifier for this task within its constellation.
	TaskID string `json:"task_id"`
	// Name is the short human-readable name of the task.
	Name string `json:"name"`
	// Description provides detailed instructions for the device.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders tasks when multiple are ready; higher runs first.
	Priority int `json:"priority,omitempty"`
	// TargetDeviceID pins the task to a specific device, if set.
	TargetDeviceID string `json:"target_device_id,omitempty"`
	// RequiredDeviceType restricts eligible devices by platform type.
	RequiredDeviceType PlatformType `json:"required_device_type,omitempty"`
	// RequiredFeatures lists capabilities an eligible device must advertise.
	RequiredFeatures []string `json:"required_features,omitempty"`
	// Result holds the opaque success payload reported by the device.
	Result string `json:"result,omitempty"`
	// Error holds the opaque failure payload reported by the device.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// Timeout bounds a single execution attempt. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
	// PendingReason explains why a ready task has not been dispatched,
	// e.g. no eligible device. Diagnostic only, never an error.
	PendingReason string `json:"pending_reason,omitempty"`
	// CreatedAt is when the task was added to the constellation.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// ExecutionStartTime is when the task was dispatched, if it ran.
	ExecutionStartTime *time.Time `json:"execution_start_time,omitempty"`
	// ExecutionEndTime is when the task reached a terminal status, if it ran.
	ExecutionEndTime *time.Time `json:"execution_end_time,omitempty"`
}

// NewTask creates a pending task with the given id and name.
func NewTask(id, name string) *Task {
	now := time.Now().UTC()
	return &Task{
		TaskID:    id,
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.RequiredFeatures != nil {
		c.RequiredFeatures = append([]string(nil), t.RequiredFeatures...)
	}
	if t.ExecutionStartTime != nil {
		st := *t.ExecutionStartTime
		c.ExecutionStartTime = &st
	}
	if t.ExecutionEndTime != nil {
		et := *t.ExecutionEndTime
		c.ExecutionEndTime = &et
	}
	return &c
}

// ResultStatus is the coarse execution status carried by protocol messages
// and device result payloads.
type ResultStatus string

const (
	// ResultStatusContinue indicates more round-trips are needed.
	ResultStatusContinue ResultStatus = "continue"
	// ResultStatusCompleted indicates the work finished successfully.
	ResultStatusCompleted ResultStatus = "completed"
	// ResultStatusFailed indicates the work failed.
	ResultStatusFailed ResultStatus = "failed"
)

// Result is the opaque outcome a device reports for a task or command.
type Result struct {
	// Status is the coarse outcome.
	Status ResultStatus `json:"status"`
	// Result holds the success payload, if any.
	Result string `json:"result,omitempty"`
	// Error holds the failure payload, if any.
	Error string `json:"error,omitempty"`
}
