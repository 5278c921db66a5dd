package models

import "time"

// PlatformType classifies a device endpoint.
type PlatformType string

const (
	// PlatformComputer is a desktop or laptop endpoint.
	PlatformComputer PlatformType = "computer"
	// PlatformMobile is a phone or tablet endpoint.
	PlatformMobile PlatformType = "mobile"
	// PlatformUnknown is an endpoint of unrecognized kind.
	PlatformUnknown PlatformType = "unknown"
)

// DeviceStatus is the registry's view of a device's liveness.
type DeviceStatus string

const (
	// DeviceOnline means the device has an active control channel.
	DeviceOnline DeviceStatus = "online"
	// DeviceOffline means the device's channel is down.
	DeviceOffline DeviceStatus = "offline"
)

// DeviceInfo is the registration payload a device sends when it connects.
type DeviceInfo struct {
	// DeviceID uniquely identifies the device across sessions.
	DeviceID string `json:"device_id"`
	// Platform names the operating system, e.g. "windows" or "android".
	Platform string `json:"platform"`
	// OSVersion is the operating system version string.
	OSVersion string `json:"os_version,omitempty"`
	// CPUCount is the number of logical CPUs.
	CPUCount int `json:"cpu_count,omitempty"`
	// MemoryTotalGB is total physical memory in gigabytes.
	MemoryTotalGB float64 `json:"memory_total_gb,omitempty"`
	// Hostname is the device's reported hostname.
	Hostname string `json:"hostname,omitempty"`
	// IPAddress is the device's reported address.
	IPAddress string `json:"ip_address,omitempty"`
	// SupportedFeatures lists capabilities the device advertises,
	// e.g. "gui", "shell", "mobile_touch".
	SupportedFeatures []string `json:"supported_features,omitempty"`
	// PlatformType classifies the device.
	PlatformType PlatformType `json:"platform_type"`
	// SchemaVersion is the registration payload schema version.
	SchemaVersion string `json:"schema_version,omitempty"`
}

// SupportsFeature returns true if the device advertises the given capability.
func (d *DeviceInfo) SupportsFeature(feature string) bool {
	for _, f := range d.SupportedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// Device is a registry entry: registration payload plus liveness tracking.
type Device struct {
	// Info is the payload the device sent at registration.
	Info DeviceInfo `json:"info"`
	// Status is the registry's liveness view.
	Status DeviceStatus `json:"status"`
	// LastHeartbeat is when the device last sent any message.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
