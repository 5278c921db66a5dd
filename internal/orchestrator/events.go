package orchestrator

import (
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventStateChanged indicates the constellation moved to a new lifecycle state.
	EventStateChanged EventType = "state_changed"
	// EventTaskDispatched indicates a task was handed to a device.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled mid-flight.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskPending indicates a ready task could not be dispatched and
	// remains pending with a diagnostic reason.
	EventTaskPending EventType = "task_pending"
	// EventTaskProgress carries an intermediate command result from a device.
	EventTaskProgress EventType = "task_progress"
	// EventEditApplied indicates an oracle edit was validated and applied.
	EventEditApplied EventType = "edit_applied"
	// EventEditRejected indicates an oracle edit failed validation.
	EventEditRejected EventType = "edit_rejected"
	// EventDeviceLost indicates a device connection dropped.
	EventDeviceLost EventType = "device_lost"
	// EventStaleResult indicates a result arrived for a task that is no
	// longer live; it was discarded.
	EventStaleResult EventType = "stale_result"
)

// Event is emitted by the orchestrator as the constellation evolves. Events
// feed the report renderer and any external observer; dropping them is safe.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ConstellationID identifies the constellation.
	ConstellationID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// DeviceID is the device involved, if applicable.
	DeviceID string
	// State is the new lifecycle state for state_changed events.
	State models.ConstellationState
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

func newEvent(t EventType, constellationID string) Event {
	return Event{Type: t, ConstellationID: constellationID, Timestamp: time.Now().UTC()}
}
