// Package registry tracks connected devices, their capabilities, and their
// liveness, and selects an eligible device for a ready task.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

// Conn is the orchestrator-facing handle for one device's control channel.
// Implemented by the dispatch server's per-device connection.
type Conn interface {
	// DeviceID identifies the connected device.
	DeviceID() string
	// Busy reports whether a task is currently in flight on this channel.
	Busy() bool
	// AssignTask sends a task down the channel. Fails if one is in flight.
	AssignTask(ctx context.Context, task *models.Task) error
}

type entry struct {
	device models.Device
	conn   Conn
}

// Registry is the live device table. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*entry
	log     *slog.Logger

	// changed is a capacity-1 trigger: any registration, deregistration, or
	// status flip pokes it so the orchestrator re-runs ready-task dispatch.
	changed chan struct{}
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		devices: make(map[string]*entry),
		log:     log,
		changed: make(chan struct{}, 1),
	}
}

// Changed returns a channel that receives a signal whenever registry
// membership or liveness changes. The channel is never closed.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

func (r *Registry) poke() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Register adds or replaces a device entry. Re-registration after a
// reconnect swaps in the new connection handle.
func (r *Registry) Register(info models.DeviceInfo, conn Conn) {
	r.mu.Lock()
	r.devices[info.DeviceID] = &entry{
		device: models.Device{
			Info:          info,
			Status:        models.DeviceOnline,
			LastHeartbeat: time.Now().UTC(),
		},
		conn: conn,
	}
	r.mu.Unlock()

	r.log.Info("device registered",
		"device_id", info.DeviceID,
		"platform_type", info.PlatformType,
		"features", info.SupportedFeatures)
	r.poke()
}

// MarkOffline flips a device to offline, keeping its entry for diagnostics.
func (r *Registry) MarkOffline(deviceID string) {
	r.mu.Lock()
	e, ok := r.devices[deviceID]
	if ok {
		e.device.Status = models.DeviceOffline
		e.conn = nil
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("device offline", "device_id", deviceID)
		r.poke()
	}
}

// Heartbeat records liveness for a device.
func (r *Registry) Heartbeat(deviceID string) {
	r.mu.Lock()
	if e, ok := r.devices[deviceID]; ok {
		e.device.LastHeartbeat = time.Now().UTC()
	}
	r.mu.Unlock()
}

// Device returns a copy of the registry entry for the given id.
func (r *Registry) Device(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[deviceID]
	if !ok {
		return models.Device{}, false
	}
	return e.device, true
}

// Devices returns a copy of all registry entries, ordered by device id.
func (r *Registry) Devices() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, 0, len(r.devices))
	for _, e := range r.devices {
		out = append(out, e.device)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.DeviceID < out[j].Info.DeviceID
	})
	return out
}

// OnlineCount returns the number of online devices.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.devices {
		if e.device.Status == models.DeviceOnline {
			n++
		}
	}
	return n
}

// Select picks an eligible, idle, online device for the task. When no
// device qualifies it returns a diagnostic reason instead of an error: the
// task stays pending and is retried on the next registry change.
func (r *Registry) Select(task *models.Task) (Conn, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	eligible := 0
	for _, id := range ids {
		e := r.devices[id]
		if !r.matches(task, e) {
			continue
		}
		eligible++
		if e.device.Status != models.DeviceOnline || e.conn == nil || e.conn.Busy() {
			continue
		}
		return e.conn, ""
	}

	if eligible == 0 {
		return nil, noEligibleReason(task)
	}
	return nil, fmt.Sprintf("all %d eligible devices are busy or offline", eligible)
}

func (r *Registry) matches(task *models.Task, e *entry) bool {
	info := e.device.Info
	if task.TargetDeviceID != "" && task.TargetDeviceID != info.DeviceID {
		return false
	}
	if task.RequiredDeviceType != "" && task.RequiredDeviceType != info.PlatformType {
		return false
	}
	for _, feature := range task.RequiredFeatures {
		if !info.SupportsFeature(feature) {
			return false
		}
	}
	return true
}

func noEligibleReason(task *models.Task) string {
	switch {
	case task.TargetDeviceID != "":
		return fmt.Sprintf("no eligible device: target device %s is not registered", task.TargetDeviceID)
	case len(task.RequiredFeatures) > 0:
		return fmt.Sprintf("no eligible device: none advertise features %v", task.RequiredFeatures)
	case task.RequiredDeviceType != "":
		return fmt.Sprintf("no eligible device: none of type %s", task.RequiredDeviceType)
	default:
		return "no eligible device: registry is empty"
	}
}
