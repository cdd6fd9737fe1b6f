// Package controller provides a resilient client for UniFi network
// controller REST APIs, covering both the appliance-integrated and the
// classic standalone-software API dialects.
package controller

import "time"

// SpeedTestResult is the canonical single-WAN measurement shape.
// Nil fields mean the backend did not report a value.
type SpeedTestResult struct {
	// Download throughput in Mbps
	Download *float64

	// Upload throughput in Mbps
	Upload *float64

	// Ping round-trip latency in milliseconds
	Ping *float64

	// Status string reported by the backend, if any
	Status string
}

// WANInterface is one detected WAN uplink with its latest measurements.
// Records are rebuilt on every poll and never persisted.
type WANInterface struct {
	// Name is the interface identifier (e.g. eth8, ppp0)
	Name string

	// NetworkGroup is the uplink group label (e.g. WAN, WAN2)
	NetworkGroup string

	// Download throughput in Mbps, nil if absent
	Download *float64

	// Upload throughput in Mbps, nil if absent
	Upload *float64

	// Ping round-trip latency in milliseconds, nil if absent
	Ping *float64

	// Status string reported by the backend, if any
	Status string

	// Timestamp of the measurement, zero if the backend gave none
	Timestamp time.Time

	// SourceEndpoint records which endpoint produced this record
	SourceEndpoint string
}

// StatusSnapshot is what a poll cycle yields: the legacy single-WAN
// result plus, when multi-WAN detection is enabled, the per-interface
// breakdown and the primary-uplink decision.
type StatusSnapshot struct {
	Result SpeedTestResult

	// WANs is populated only in multi-WAN mode
	WANs []WANInterface

	// PrimaryWAN names the interface chosen as the main internet path
	PrimaryWAN string

	// DetectionMethod records which heuristic layer decided PrimaryWAN
	// (routing-table, network-config, scoring, fallback)
	DetectionMethod string
}

// HealthStatus is a side-effect-free snapshot of the client's internal
// health, used by callers to skip poll cycles before penalizing an
// already-penalized session any further.
type HealthStatus struct {
	// CanAttemptConnection is false while a login cooldown is active
	CanAttemptConnection bool

	// ConsecutiveRejections counts rejection-class responses since the
	// last successful request
	ConsecutiveRejections int

	// InCooldown reports whether a login cooldown window is open
	InCooldown bool

	// CooldownRemaining is the time left in the cooldown window
	CooldownRemaining time.Duration

	// LastLogin is the time of the last successful login, zero if none
	LastLogin time.Time

	// FailedLogins counts consecutive failed login attempts
	FailedLogins int
}

// ControllerInfo is a read-only diagnostic snapshot of the backend.
type ControllerInfo struct {
	// Type is the configured API dialect
	Type ControllerType

	// Name is the controller's self-reported name
	Name string

	// Version is the controller software version
	Version string

	// Hostname is the controller's self-reported hostname
	Hostname string
}

// ControllerType selects which API dialect the backend speaks.
type ControllerType string

const (
	// TypeAppliance is the integrated-gateway controller API style
	// (login at /api/auth/login, endpoints behind /proxy/network).
	TypeAppliance ControllerType = "appliance"

	// TypeClassic is the traditional standalone-software controller
	// API style (login at /api/login, endpoints under /api/s/{site}).
	TypeClassic ControllerType = "classic"
)
