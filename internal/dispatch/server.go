package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalworks/constellation/internal/registry"
	"github.com/orbitalworks/constellation/pkg/models"
)

// ResultSink receives device-side events. Implemented by the orchestrator;
// every call may arrive from a different connection goroutine, so
// implementations serialize internally.
type ResultSink interface {
	// TaskResult delivers a terminal task outcome from a device.
	TaskResult(deviceID, taskID string, result models.Result)
	// TaskProgress delivers a non-terminal command result.
	TaskProgress(deviceID, taskID string, result models.Result)
	// DeviceLost reports a dropped connection and the task that was in
	// flight on it, if any.
	DeviceLost(deviceID, inflightTaskID string)
}

// ServerConfig tunes the dispatch server.
type ServerConfig struct {
	// SessionID stamps every outbound message.
	SessionID string
	// ReadTimeout bounds silence on a device connection before it is
	// considered dead. Devices heartbeat well inside this window.
	ReadTimeout time.Duration
}

// Server accepts device connections and runs one receive loop per device.
type Server struct {
	cfg      ServerConfig
	registry *registry.Registry
	sink     ResultSink
	log      *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*DeviceConn
	wg       sync.WaitGroup
}

// NewServer creates a dispatch server wired to the given registry and sink.
func NewServer(cfg ServerConfig, reg *registry.Registry, sink ResultSink, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		registry: reg,
		sink:     sink,
		log:      log,
		conns:    make(map[string]*DeviceConn),
	}
}

// Listen starts accepting device connections on addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("serve: no listener; call Listen first")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn runs the protocol over one accepted connection. Exported so
// tests can drive the server over a pipe without a real listener.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dc := &DeviceConn{
		server: s,
		conn:   conn,
		enc:    json.NewEncoder(conn),
	}

	dec := json.NewDecoder(conn)

	// Registration handshake: the first message must be a register.
	setReadDeadline(conn, s.cfg.ReadTimeout)
	var first Message
	if err := dec.Decode(&first); err != nil {
		s.log.Warn("connection dropped before registration", "error", err)
		return
	}
	if err := first.Validate(); err != nil || first.Type != TypeRegister {
		s.log.Warn("rejecting connection: bad registration", "error", err, "type", first.Type)
		dc.send(errorMessage("expected register message"))
		return
	}

	info := *first.Device
	dc.id = info.DeviceID
	s.trackConn(dc)
	defer s.untrackConn(dc)

	s.registry.Register(info, dc)
	defer func() {
		inflight := dc.takeInflight()
		if s.owns(dc) {
			s.registry.MarkOffline(dc.id)
			s.sink.DeviceLost(dc.id, inflight)
		} else if inflight != "" {
			// Superseded by a reconnect: the device is online on the new
			// channel, but this channel's in-flight task is gone.
			s.sink.DeviceLost(dc.id, inflight)
		}
	}()

	// Ack registration so the client can enter its awaiting_task state.
	ack := NewMessage(TypeRegister)
	ack.SessionID = s.cfg.SessionID
	ack.ResponseID = first.RequestID
	ack.Status = models.ResultStatusCompleted
	if err := dc.send(ack); err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		setReadDeadline(conn, s.cfg.ReadTimeout)
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("device disconnected", "device_id", dc.id)
			} else {
				s.log.Warn("device read failed", "device_id", dc.id, "error", err)
			}
			return
		}
		if err := msg.Validate(); err != nil {
			s.log.Warn("invalid message from device", "device_id", dc.id, "error", err)
			dc.send(errorMessage(err.Error()))
			continue
		}
		s.registry.Heartbeat(dc.id)
		s.handleMessage(dc, msg)
	}
}

func (s *Server) handleMessage(dc *DeviceConn, msg Message) {
	switch msg.Type {
	case TypeHeartbeat:
		// Liveness already recorded; echo so the device's read loop wakes.
		hb := NewMessage(TypeHeartbeat)
		hb.SessionID = s.cfg.SessionID
		hb.ResponseID = msg.RequestID
		dc.send(hb)

	case TypeCommandResults:
		if msg.Result.Status == models.ResultStatusContinue {
			s.sink.TaskProgress(dc.id, msg.TaskID, *msg.Result)
			return
		}
		dc.finishTask(msg.TaskID)
		s.sink.TaskResult(dc.id, msg.TaskID, *msg.Result)

	case TypeTaskEnd:
		dc.finishTask(msg.TaskID)
		s.sink.TaskResult(dc.id, msg.TaskID, *msg.Result)

	case TypeError:
		s.log.Warn("device reported error", "device_id", dc.id, "error", msg.Error)

	default:
		s.log.Warn("unexpected message type from device", "device_id", dc.id, "type", msg.Type)
	}
}

// Shutdown closes the listener and every device connection, then waits for
// connection goroutines to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	conns := make([]*DeviceConn, 0, len(s.conns))
	for _, dc := range s.conns {
		conns = append(conns, dc)
	}
	s.mu.Unlock()

	for _, dc := range conns {
		dc.conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) trackConn(dc *DeviceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.conns[dc.id]; ok {
		// A reconnect supersedes the old channel.
		old.conn.Close()
	}
	s.conns[dc.id] = dc
}

// owns reports whether dc is still the tracked connection for its device id.
// A reconnect replaces the tracked entry, after which the superseded
// handler's teardown must not clobber the live registration.
func (s *Server) owns(dc *DeviceConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[dc.id] == dc
}

func (s *Server) untrackConn(dc *DeviceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[dc.id] == dc {
		delete(s.conns, dc.id)
	}
}

func setReadDeadline(conn net.Conn, d time.Duration) {
	if d > 0 {
		conn.SetReadDeadline(time.Now().Add(d))
	}
}

func errorMessage(text string) Message {
	m := NewMessage(TypeError)
	m.Error = text
	return m
}

// DeviceConn is the server-side handle for one device's channel. It
// implements registry.Conn and enforces the one-in-flight-task rule.
type DeviceConn struct {
	server *Server
	id     string
	conn   net.Conn

	encMu sync.Mutex
	enc   *json.Encoder

	taskMu   sync.Mutex
	inflight string
}

// DeviceID implements registry.Conn.
func (dc *DeviceConn) DeviceID() string { return dc.id }

// Busy implements registry.Conn.
func (dc *DeviceConn) Busy() bool {
	dc.taskMu.Lock()
	defer dc.taskMu.Unlock()
	return dc.inflight != ""
}

// AssignTask implements registry.Conn. The per-connection task lock means a
// second task is refused until the first reports a terminal status.
func (dc *DeviceConn) AssignTask(ctx context.Context, task *models.Task) error {
	dc.taskMu.Lock()
	if dc.inflight != "" {
		busy := dc.inflight
		dc.taskMu.Unlock()
		return fmt.Errorf("device %s busy with task %s", dc.id, busy)
	}
	dc.inflight = task.TaskID
	dc.taskMu.Unlock()

	msg := NewMessage(TypeTask)
	msg.SessionID = dc.server.cfg.SessionID
	msg.TaskID = task.TaskID
	msg.RequestID = uuid.NewString()
	msg.UserRequest = task.Description
	if msg.UserRequest == "" {
		msg.UserRequest = task.Name
	}

	if err := dc.send(msg); err != nil {
		dc.finishTask(task.TaskID)
		return fmt.Errorf("send task %s to %s: %w", task.TaskID, dc.id, err)
	}
	dc.server.log.Info("task dispatched", "task_id", task.TaskID, "device_id", dc.id)
	return nil
}

// SendCancel tells the device to abandon the given task. Best effort: the
// orchestrator does not wait for acknowledgment.
func (dc *DeviceConn) SendCancel(taskID string) {
	msg := NewMessage(TypeCommands)
	msg.SessionID = dc.server.cfg.SessionID
	msg.TaskID = taskID
	msg.Payload = json.RawMessage(`{"action":"cancel"}`)
	dc.send(msg)
	dc.finishTask(taskID)
}

func (dc *DeviceConn) finishTask(taskID string) {
	dc.taskMu.Lock()
	if dc.inflight == taskID {
		dc.inflight = ""
	}
	dc.taskMu.Unlock()
}

func (dc *DeviceConn) takeInflight() string {
	dc.taskMu.Lock()
	defer dc.taskMu.Unlock()
	id := dc.inflight
	dc.inflight = ""
	return id
}

func (dc *DeviceConn) send(msg Message) error {
	dc.encMu.Lock()
	defer dc.encMu.Unlock()
	if err := dc.enc.Encode(msg); err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return nil
}
