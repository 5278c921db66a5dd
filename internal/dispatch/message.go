// Package dispatch implements the persistent control channel between the
// orchestrator and its devices: registration, heartbeats, task assignment,
// command round-trips, and completion reporting.
//
// Framing is newline-delimited JSON over a long-lived TCP connection, one
// logical connection per device, with at most one task in flight per
// connection.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

// MessageType identifies a control-channel message.
type MessageType string

const (
	// TypeRegister is the device's first message: its registration payload.
	TypeRegister MessageType = "register"
	// TypeHeartbeat is a liveness probe, sent by either side.
	TypeHeartbeat MessageType = "heartbeat"
	// TypeTask assigns a task to a device.
	TypeTask MessageType = "task"
	// TypeCommands carries server-to-device step instructions.
	TypeCommands MessageType = "commands"
	// TypeCommandResults carries device-to-server step results.
	TypeCommandResults MessageType = "command_results"
	// TypeTaskEnd reports a task's final outcome.
	TypeTaskEnd MessageType = "task_end"
	// TypeError reports a protocol-level error.
	TypeError MessageType = "error"
)

// Message is the shared control-channel envelope. Field presence depends on
// the message type; unused fields are omitted on the wire.
type Message struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	// RequestID correlates a request with its response; ResponseID echoes
	// the request it answers.
	RequestID  string              `json:"request_id,omitempty"`
	ResponseID string              `json:"response_id,omitempty"`
	Status     models.ResultStatus `json:"status,omitempty"`
	// Timestamp is ISO-8601 UTC.
	Timestamp string `json:"timestamp"`

	// UserRequest carries the task instruction on task messages.
	UserRequest string `json:"user_request,omitempty"`
	// Device carries the registration payload on register messages.
	Device *models.DeviceInfo `json:"device,omitempty"`
	// Payload carries the device-specific action payload on commands
	// messages. Opaque to the orchestrator.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Result carries the outcome on command_results and task_end messages.
	Result *models.Result `json:"result,omitempty"`
	// Error carries a diagnostic on error messages.
	Error string `json:"error,omitempty"`
}

// NewMessage creates an envelope of the given type with the timestamp set.
func NewMessage(t MessageType) Message {
	return Message{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Validate checks the invariants a received message must satisfy before it
// is acted on.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if m.Device == nil || m.Device.DeviceID == "" {
			return fmt.Errorf("register message missing device payload")
		}
	case TypeTask:
		if m.TaskID == "" {
			return fmt.Errorf("task message missing task_id")
		}
	case TypeTaskEnd, TypeCommandResults:
		if m.TaskID == "" {
			return fmt.Errorf("%s message missing task_id", m.Type)
		}
		if m.Result == nil {
			return fmt.Errorf("%s message missing result", m.Type)
		}
	case TypeHeartbeat, TypeCommands, TypeError:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
