package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalworks/constellation/pkg/models"
)

// ClientState is the device agent's connection state.
type ClientState string

const (
	// StateDisconnected means no connection exists.
	StateDisconnected ClientState = "disconnected"
	// StateConnecting means a dial is in progress.
	StateConnecting ClientState = "connecting"
	// StateRegistered means registration was acknowledged.
	StateRegistered ClientState = "registered"
	// StateAwaitingTask means the agent is idle, waiting for work.
	StateAwaitingTask ClientState = "awaiting_task"
	// StateTaskActive means a task is executing.
	StateTaskActive ClientState = "task_active"
)

// ErrRetriesExhausted is returned when reconnection attempts run out. It is
// terminal for this device only; the orchestrator carries on without it.
var ErrRetriesExhausted = fmt.Errorf("reconnect retries exhausted")

// TaskSpec is the work handed to an Executor: the assignment as it arrived
// on the wire.
type TaskSpec struct {
	TaskID      string
	UserRequest string
	SessionID   string
}

// Executor performs one task on the device. Opaque to the orchestrator:
// screenshot capture, accessibility walking, control invocation all live
// behind this interface.
type Executor interface {
	Execute(ctx context.Context, task TaskSpec) models.Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task TaskSpec) models.Result

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task TaskSpec) models.Result {
	return f(ctx, task)
}

// ClientConfig tunes the device agent.
type ClientConfig struct {
	// Addr is the orchestrator's dispatch address.
	Addr string
	// ReceiveTimeout bounds a single read; on expiry the agent sends a
	// heartbeat instead of treating silence as failure.
	ReceiveTimeout time.Duration
	// MaxRetries bounds reconnection attempts. Backoff doubles per attempt.
	MaxRetries int
	// Dial overrides the transport, used by tests to connect over a pipe.
	Dial func(ctx context.Context) (net.Conn, error)
}

// Client is the device-side half of the dispatch protocol: one persistent
// connection, a sequential command loop, and an executor for assigned work.
type Client struct {
	cfg  ClientConfig
	info models.DeviceInfo
	exec Executor
	log  *slog.Logger

	mu         sync.Mutex
	state      ClientState
	cancelTask context.CancelFunc
	activeTask string
}

// NewClient creates a device agent.
func NewClient(cfg ClientConfig, info models.DeviceInfo, exec Executor, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Dial == nil {
		addr := cfg.Addr
		cfg.Dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Client{
		cfg:   cfg,
		info:  info,
		exec:  exec,
		log:   log,
		state: StateDisconnected,
	}
}

// State returns the agent's current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and serves until ctx is cancelled or retries are exhausted.
// Each connection loss triggers a reconnect after 2^retry seconds; a
// successful registration resets the retry budget.
func (c *Client) Run(ctx context.Context) error {
	retries := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		registered, err := c.runConn(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if registered {
			// The session got as far as registration; reset the budget.
			retries = 0
		}

		retries++
		if retries > c.cfg.MaxRetries {
			c.log.Error("giving up after max retries",
				"device_id", c.info.DeviceID, "retries", c.cfg.MaxRetries)
			return ErrRetriesExhausted
		}

		backoff := time.Duration(1<<uint(retries-1)) * time.Second
		c.log.Warn("connection lost, reconnecting",
			"device_id", c.info.DeviceID, "retry", retries, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// runConn performs one full connection lifetime: dial, register, serve.
// The returned bool reports whether registration was acknowledged.
func (c *Client) runConn(ctx context.Context) (bool, error) {
	c.setState(StateConnecting)
	conn, err := c.cfg.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	var encMu sync.Mutex
	send := func(msg Message) error {
		encMu.Lock()
		defer encMu.Unlock()
		return enc.Encode(msg)
	}

	reg := NewMessage(TypeRegister)
	reg.ClientID = c.info.DeviceID
	reg.RequestID = uuid.NewString()
	reg.Device = &c.info
	if err := send(reg); err != nil {
		return false, fmt.Errorf("send register: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReceiveTimeout))
	var ack Message
	if err := dec.Decode(&ack); err != nil {
		return false, fmt.Errorf("await register ack: %w", err)
	}
	if ack.Type == TypeError {
		return false, fmt.Errorf("registration rejected: %s", ack.Error)
	}
	if ack.Type != TypeRegister {
		return false, fmt.Errorf("unexpected registration reply %q", ack.Type)
	}
	c.setState(StateRegistered)
	c.log.Info("registered", "device_id", c.info.DeviceID, "session_id", ack.SessionID)
	c.setState(StateAwaitingTask)

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReceiveTimeout))
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if os.IsTimeout(err) {
				// Silence is not failure: probe the server instead.
				hb := NewMessage(TypeHeartbeat)
				hb.ClientID = c.info.DeviceID
				hb.RequestID = uuid.NewString()
				if herr := send(hb); herr != nil {
					return true, fmt.Errorf("send heartbeat: %w", herr)
				}
				continue
			}
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case TypeTask:
			c.runTask(ctx, msg, send)

		case TypeCommands:
			c.handleCommands(msg)

		case TypeHeartbeat:
			// Server heartbeat echo; nothing to do.

		case TypeError:
			c.log.Warn("server error", "error", msg.Error)

		default:
			c.log.Warn("unexpected message", "type", msg.Type)
		}
	}
}

// runTask launches an assignment in its own goroutine so the receive loop
// stays live while the task runs. A live loop is what lets a server-sent
// cancel, or any commands round-trip, reach the executing task. Overlapping
// assignments are refused; the device runs one task at a time.
func (c *Client) runTask(ctx context.Context, msg Message, send func(Message) error) {
	c.mu.Lock()
	if c.activeTask != "" {
		busy := c.activeTask
		c.mu.Unlock()
		c.log.Warn("refusing overlapping task", "task_id", msg.TaskID, "active_task", busy)
		refuse := errorMessage(fmt.Sprintf("task %s already active", busy))
		refuse.TaskID = msg.TaskID
		send(refuse)
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	c.cancelTask = cancel
	c.activeTask = msg.TaskID
	c.state = StateTaskActive
	c.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			c.cancelTask = nil
			c.activeTask = ""
			c.state = StateAwaitingTask
			c.mu.Unlock()
		}()

		c.log.Info("task started", "task_id", msg.TaskID)
		result := c.exec.Execute(taskCtx, TaskSpec{
			TaskID:      msg.TaskID,
			UserRequest: msg.UserRequest,
			SessionID:   msg.SessionID,
		})
		if result.Status == "" {
			result.Status = models.ResultStatusFailed
			result.Error = "executor returned no status"
		}

		end := NewMessage(TypeTaskEnd)
		end.ClientID = c.info.DeviceID
		end.SessionID = msg.SessionID
		end.TaskID = msg.TaskID
		end.ResponseID = msg.RequestID
		end.Status = result.Status
		end.Result = &result
		if err := send(end); err != nil {
			c.log.Error("report task end failed", "task_id", msg.TaskID, "error", err)
			return
		}
		c.log.Info("task finished", "task_id", msg.TaskID, "status", result.Status)
	}()
}

// handleCommands processes server step instructions. Today the only
// recognized action is cancel.
func (c *Client) handleCommands(msg Message) {
	var payload struct {
		Action string `json:"action"`
	}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.log.Warn("bad commands payload", "error", err)
			return
		}
	}
	if payload.Action != "cancel" {
		c.log.Warn("unknown command action", "action", payload.Action)
		return
	}

	c.mu.Lock()
	cancel := c.cancelTask
	active := c.activeTask
	c.mu.Unlock()
	if cancel != nil && (msg.TaskID == "" || msg.TaskID == active) {
		c.log.Info("cancelling task on server request", "task_id", active)
		cancel()
	}
}
