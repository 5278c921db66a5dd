package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitalworks/constellation/internal/editor"
	"github.com/orbitalworks/constellation/internal/graph"
	"github.com/orbitalworks/constellation/internal/registry"
	"github.com/orbitalworks/constellation/pkg/models"
)

// Config tunes a single orchestrator run. All knobs are explicit values; no
// process-wide state.
type Config struct {
	// MaxTaskRetries bounds per-task redispatch after a failure or a lost
	// device. Zero means a task fails on its first bad outcome.
	MaxTaskRetries int
	// EventBuffer sizes the event channel. Events beyond the buffer are
	// dropped rather than blocking the mutation path.
	EventBuffer int
	// ExitOnTerminal makes Run return once the constellation reaches a
	// terminal state, for one-shot sessions. Long-lived servers leave it
	// false and keep accepting oracle edits.
	ExitOnTerminal bool
}

// canceller is implemented by device connections that can forward a
// cancellation to the device.
type canceller interface {
	SendCancel(taskID string)
}

// Orchestrator drives one constellation: it applies oracle edits, dispatches
// ready tasks to devices, folds device results back into the graph, and
// tracks the lifecycle state. Every mutation runs inside the constellation's
// exclusive section, so edits and result callbacks are linearized.
//
// Orchestrator implements dispatch.ResultSink.
type Orchestrator struct {
	cfg Config

	g     *graph.Graph
	ev    *graph.Evaluator
	ed    *editor.Editor
	sm    *StateMachine
	syncr *Synchronizer
	reg   *registry.Registry

	metrics *Metrics
	trace   *TraceLogger
	log     *slog.Logger

	events  chan Event
	trigger chan struct{}

	// inflight maps task IDs to the device currently executing them, and
	// readySince records when each pending task last entered the ready set.
	// Both are guarded by the exclusive section.
	inflight   map[string]registry.Conn
	readySince map[string]time.Time
}

// New creates an orchestrator for the given constellation. The predicate
// evaluates conditional dependency edges; pass nil for the default. Metrics
// and trace may be nil.
func New(cfg Config, c *models.Constellation, reg *registry.Registry, pred graph.Predicate, metrics *Metrics, trace *TraceLogger, log *slog.Logger) (*Orchestrator, error) {
	g, err := graph.New(c)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	if pred == nil {
		pred = graph.DefaultPredicate()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	ev := graph.NewEvaluator(g, pred)
	return &Orchestrator{
		cfg:        cfg,
		g:          g,
		ev:         ev,
		ed:         editor.New(g, ev, log),
		sm:         NewStateMachine(g),
		syncr:      NewSynchronizer(),
		reg:        reg,
		metrics:    metrics,
		trace:      trace,
		log:        log,
		events:     make(chan Event, cfg.EventBuffer),
		trigger:    make(chan struct{}, 1),
		inflight:   make(map[string]registry.Conn),
		readySince: make(map[string]time.Time),
	}, nil
}

// Events returns the event stream. The channel is never closed; consumers
// select against their own done signal.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the constellation's current lifecycle state.
func (o *Orchestrator) State() models.ConstellationState {
	var s models.ConstellationState
	o.syncr.WithExclusive(o.id(), func() error {
		s = o.sm.State()
		return nil
	})
	return s
}

// Close releases the constellation's exclusive section once the run is over
// and the final snapshot has been archived. Later accessors still work; the
// synchronizer recreates sections lazily.
func (o *Orchestrator) Close() {
	o.syncr.Forget(o.id())
}

// Snapshot returns a deep copy of the constellation, safe to hand to the
// oracle or the report renderer while execution continues.
func (o *Orchestrator) Snapshot() *models.Constellation {
	var snap *models.Constellation
	o.syncr.WithExclusive(o.id(), func() error {
		snap = o.g.Constellation().Clone()
		return nil
	})
	return snap
}

func (o *Orchestrator) id() string {
	return o.g.Constellation().ConstellationID
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		// Observers must never block the mutation path.
	}
}

// poke signals the run loop to look for dispatchable work. Coalesces.
func (o *Orchestrator) poke() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until ctx is cancelled, or until the
// constellation goes terminal when ExitOnTerminal is set. It wakes on
// internal mutations and on registry changes (a newly registered device may
// unblock a pending task).
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		o.dispatchReady(ctx)

		if o.cfg.ExitOnTerminal {
			if s := o.State(); s.Terminal() {
				o.log.Info("constellation reached terminal state", "constellation_id", o.id(), "state", s)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.trigger:
		case <-o.reg.Changed():
		}
	}
}

// assignment pairs a task with the connection chosen for it. Built inside
// the exclusive section, sent outside it.
type assignment struct {
	conn registry.Conn
	task *models.Task
	wait time.Duration
}

// dispatchReady hands every dispatchable ready task to an eligible device.
// Task selection and status flips happen inside the exclusive section; the
// actual sends happen after it, since network writes must not hold the lock.
func (o *Orchestrator) dispatchReady(ctx context.Context) {
	var assignments []assignment

	o.syncr.WithExclusive(o.id(), func() error {
		now := time.Now().UTC()
		for _, task := range o.ev.Ready() {
			if _, ok := o.inflight[task.TaskID]; ok {
				continue
			}
			if _, ok := o.readySince[task.TaskID]; !ok {
				o.readySince[task.TaskID] = now
			}

			conn, reason := o.reg.Select(task)
			if conn == nil {
				// Not an error: the task stays pending and is retried on
				// the next registry change.
				if task.PendingReason != reason {
					task.PendingReason = reason
					o.trace.Log("[dispatch] task %s pending: %s", task.TaskID, reason)
					ev := newEvent(EventTaskPending, o.id())
					ev.TaskID = task.TaskID
					ev.Message = reason
					o.emit(ev)
				}
				continue
			}

			if err := o.g.SetTaskStatus(task.TaskID, models.TaskStatusRunning, "", ""); err != nil {
				continue
			}
			o.ev.TaskChanged(task.TaskID)
			o.inflight[task.TaskID] = conn

			if s := o.sm.FirstDispatch(); s != "" {
				o.emitStateChange(s)
			}

			wait := now.Sub(o.readySince[task.TaskID])
			delete(o.readySince, task.TaskID)
			assignments = append(assignments, assignment{conn: conn, task: task.Clone(), wait: wait})
		}
		o.updateGauges()
		return nil
	})

	for _, a := range assignments {
		o.trace.Log("[dispatch] sending task %s to device %s", a.task.TaskID, a.conn.DeviceID())
		if err := a.conn.AssignTask(ctx, a.task); err != nil {
			o.log.Warn("task assignment failed",
				"task_id", a.task.TaskID, "device_id", a.conn.DeviceID(), "error", err)
			o.requeue(a.task.TaskID, fmt.Sprintf("assignment to %s failed: %v", a.conn.DeviceID(), err))
			continue
		}
		if o.metrics != nil {
			o.metrics.tasksDispatched.WithLabelValues(a.conn.DeviceID()).Inc()
			o.metrics.dispatchLatency.Observe(a.wait.Seconds())
		}
		ev := newEvent(EventTaskDispatched, o.id())
		ev.TaskID = a.task.TaskID
		ev.DeviceID = a.conn.DeviceID()
		o.emit(ev)
	}
}

// requeue returns a task that never reached its device to the pending pool.
func (o *Orchestrator) requeue(taskID, reason string) {
	o.syncr.WithExclusive(o.id(), func() error {
		delete(o.inflight, taskID)
		t := o.g.Task(taskID)
		if t == nil || t.Status != models.TaskStatusRunning {
			return nil
		}
		o.g.SetTaskStatus(taskID, models.TaskStatusPending, "", "")
		t.PendingReason = reason
		o.ev.TaskChanged(taskID)
		o.updateGauges()
		return nil
	})
	o.poke()
}

// TaskResult folds a terminal device result into the graph. Results for
// tasks that are gone or no longer running are stale and discarded
// idempotently. Part of the dispatch.ResultSink contract.
func (o *Orchestrator) TaskResult(deviceID, taskID string, result models.Result) {
	o.syncr.WithExclusive(o.id(), func() error {
		t := o.g.Task(taskID)
		if t == nil || t.Status != models.TaskStatusRunning {
			o.discardStale(deviceID, taskID, t)
			return nil
		}
		delete(o.inflight, taskID)

		if result.Status == models.ResultStatusCompleted {
			o.g.SetTaskStatus(taskID, models.TaskStatusCompleted, result.Result, "")
			o.ev.TaskChanged(taskID)
			o.finishMetrics(t, models.TaskStatusCompleted)
			o.trace.Log("[result] task %s completed on %s", taskID, deviceID)
			ev := newEvent(EventTaskCompleted, o.id())
			ev.TaskID = taskID
			ev.DeviceID = deviceID
			o.emit(ev)
		} else {
			o.failOrRetry(t, deviceID, result.Error)
		}

		if s := o.sm.CheckTerminal(); s != "" {
			o.emitStateChange(s)
		}
		o.updateGauges()
		return nil
	})
	o.poke()
}

// TaskProgress surfaces an intermediate command result. Progress for a task
// that is no longer running is stale. Part of the dispatch.ResultSink
// contract.
func (o *Orchestrator) TaskProgress(deviceID, taskID string, result models.Result) {
	o.syncr.WithExclusive(o.id(), func() error {
		t := o.g.Task(taskID)
		if t == nil || t.Status != models.TaskStatusRunning {
			o.discardStale(deviceID, taskID, t)
			return nil
		}
		ev := newEvent(EventTaskProgress, o.id())
		ev.TaskID = taskID
		ev.DeviceID = deviceID
		ev.Message = result.Result
		o.emit(ev)
		return nil
	})
}

// DeviceLost handles a dropped device connection. The in-flight task, if
// any, is redispatched to another device while retry budget remains. Part of
// the dispatch.ResultSink contract.
func (o *Orchestrator) DeviceLost(deviceID, inflightTaskID string) {
	o.syncr.WithExclusive(o.id(), func() error {
		o.trace.Log("[device] lost %s (inflight task: %q)", deviceID, inflightTaskID)
		ev := newEvent(EventDeviceLost, o.id())
		ev.DeviceID = deviceID
		ev.TaskID = inflightTaskID
		o.emit(ev)

		if inflightTaskID == "" {
			return nil
		}
		t := o.g.Task(inflightTaskID)
		if t == nil || t.Status != models.TaskStatusRunning {
			return nil
		}
		delete(o.inflight, inflightTaskID)
		o.failOrRetry(t, deviceID, fmt.Sprintf("device %s disconnected mid-task", deviceID))

		if s := o.sm.CheckTerminal(); s != "" {
			o.emitStateChange(s)
		}
		o.updateGauges()
		return nil
	})
	o.poke()
}

// failOrRetry either requeues a failed task within its retry budget or marks
// it failed for good. Caller holds the exclusive section.
func (o *Orchestrator) failOrRetry(t *models.Task, deviceID, errMsg string) {
	if t.RetryCount < o.cfg.MaxTaskRetries {
		t.RetryCount++
		o.g.SetTaskStatus(t.TaskID, models.TaskStatusPending, "", "")
		t.PendingReason = fmt.Sprintf("retry %d/%d after failure on %s", t.RetryCount, o.cfg.MaxTaskRetries, deviceID)
		o.ev.TaskChanged(t.TaskID)
		o.trace.Log("[result] task %s failed on %s, requeued (%s)", t.TaskID, deviceID, errMsg)
		return
	}
	o.g.SetTaskStatus(t.TaskID, models.TaskStatusFailed, "", errMsg)
	o.ev.TaskChanged(t.TaskID)
	o.finishMetrics(t, models.TaskStatusFailed)
	o.trace.Log("[result] task %s failed on %s: %s", t.TaskID, deviceID, errMsg)
	ev := newEvent(EventTaskFailed, o.id())
	ev.TaskID = t.TaskID
	ev.DeviceID = deviceID
	ev.Message = errMsg
	o.emit(ev)
}

// discardStale records a stale event without mutating the graph.
func (o *Orchestrator) discardStale(deviceID, taskID string, t *models.Task) {
	status := "absent"
	if t != nil {
		status = string(t.Status)
	}
	o.log.Info("discarding stale result",
		"task_id", taskID, "device_id", deviceID, "task_status", status)
	o.trace.Log("[stale] result for task %s from %s ignored (task %s)", taskID, deviceID, status)
	if o.metrics != nil {
		o.metrics.staleResults.Inc()
	}
	ev := newEvent(EventStaleResult, o.id())
	ev.TaskID = taskID
	ev.DeviceID = deviceID
	o.emit(ev)
}

// ApplyEdits validates and applies a batch of oracle edit commands inside
// the exclusive section. Application stops at the first rejection; the
// rejection reason comes back as data for the oracle to self-correct.
func (o *Orchestrator) ApplyEdits(cmds []editor.Command) ([]editor.Outcome, error) {
	var outcomes []editor.Outcome
	err := o.syncr.WithExclusive(o.id(), func() error {
		var applyErr error
		outcomes, applyErr = o.ed.ApplyAll(cmds)
		if applyErr != nil {
			return applyErr
		}
		for _, out := range outcomes {
			if o.metrics != nil {
				label := "applied"
				if !out.Applied {
					label = "rejected"
				}
				o.metrics.editsApplied.WithLabelValues(out.Command.Name(), label).Inc()
			}
			if !out.Applied {
				o.trace.Log("[edit] %s rejected: %s", out.Command.Name(), out.Reason)
				ev := newEvent(EventEditRejected, o.id())
				ev.Message = fmt.Sprintf("%s: %s", out.Command.Name(), out.Reason)
				o.emit(ev)
				continue
			}
			o.trace.Log("[edit] %s applied", out.Command.Name())
			ev := newEvent(EventEditApplied, o.id())
			ev.Message = out.Command.Name()
			o.emit(ev)

			if _, ok := out.Command.(*editor.AddTask); ok {
				// May flip created->ready, or revert completed->executing
				// when the oracle adds work after an apparent finish.
				if s := o.sm.TaskAdded(); s != "" {
					o.emitStateChange(s)
				}
			}
		}
		// An edit can also remove the last live task, so terminality is
		// re-settled inside the same exclusive section.
		if s := o.sm.CheckTerminal(); s != "" {
			o.emitStateChange(s)
		}
		o.updateGauges()
		return nil
	})
	o.poke()
	return outcomes, err
}

// Cancel transitions every non-terminal task to cancelled, best-effort
// forwards the cancellation to devices with work in flight, and settles the
// constellation's terminal state.
func (o *Orchestrator) Cancel() {
	var cancels []struct {
		conn   registry.Conn
		taskID string
	}
	o.syncr.WithExclusive(o.id(), func() error {
		for id, t := range o.g.Constellation().Tasks {
			if t.Status.Terminal() {
				continue
			}
			if conn, ok := o.inflight[id]; ok {
				cancels = append(cancels, struct {
					conn   registry.Conn
					taskID string
				}{conn, id})
				delete(o.inflight, id)
			}
			o.g.SetTaskStatus(id, models.TaskStatusCancelled, "", "")
			o.ev.TaskChanged(id)
			o.trace.Log("[cancel] task %s cancelled", id)
			ev := newEvent(EventTaskCancelled, o.id())
			ev.TaskID = id
			o.emit(ev)
		}
		if s := o.sm.CheckTerminal(); s != "" {
			o.emitStateChange(s)
		}
		o.updateGauges()
		return nil
	})

	// Device acknowledgment is not awaited; a late result for a cancelled
	// task is discarded as stale.
	for _, c := range cancels {
		if cc, ok := c.conn.(canceller); ok {
			cc.SendCancel(c.taskID)
		}
	}
	o.poke()
}

// DeclareFailed marks the constellation unrecoverable by operator or oracle
// policy.
func (o *Orchestrator) DeclareFailed(reason string) error {
	var err error
	o.syncr.WithExclusive(o.id(), func() error {
		err = o.sm.DeclareFailed()
		if err == nil {
			o.trace.Log("[state] declared failed: %s", reason)
			o.emitStateChange(models.StateFailed)
		}
		return nil
	})
	return err
}

func (o *Orchestrator) emitStateChange(s models.ConstellationState) {
	o.trace.Log("[state] -> %s", s)
	o.log.Info("constellation state changed", "constellation_id", o.id(), "state", s)
	ev := newEvent(EventStateChanged, o.id())
	ev.State = s
	o.emit(ev)
}

// finishMetrics records terminal-status metrics for a task. Caller holds the
// exclusive section.
func (o *Orchestrator) finishMetrics(t *models.Task, status models.TaskStatus) {
	if o.metrics == nil {
		return
	}
	o.metrics.tasksFinished.WithLabelValues(string(status)).Inc()
	if t.ExecutionStartTime != nil {
		o.metrics.taskDuration.Observe(time.Since(*t.ExecutionStartTime).Seconds())
	}
}

// updateGauges refreshes the pending/running/device gauges. Caller holds the
// exclusive section.
func (o *Orchestrator) updateGauges() {
	if o.metrics == nil {
		return
	}
	pending, running := 0, 0
	for _, t := range o.g.Constellation().Tasks {
		switch t.Status {
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusRunning:
			running++
		}
	}
	o.metrics.tasksPending.Set(float64(pending))
	o.metrics.tasksRunning.Set(float64(running))
	o.metrics.devicesOnline.Set(float64(o.reg.OnlineCount()))
}
