package models

import "time"

// RunnerMode is the scheduler loop state.
type RunnerMode string

const (
	// ModeRunning means the loop is scheduling and reconciling.
	ModeRunning RunnerMode = "running"
	// ModePaused means the loop reconciles in-flight work but spawns nothing.
	ModePaused RunnerMode = "paused"
	// ModeStopping means the loop is draining in-flight work before exit.
	ModeStopping RunnerMode = "stopping"
	// ModeStopped means the loop has exited.
	ModeStopped RunnerMode = "stopped"
)

// RunnerSnapshot is the point-in-time view of a running instance.
// It is reconstructed on demand and never persisted beyond the identity file.
type RunnerSnapshot struct {
	// InstanceID identifies this runner instance.
	InstanceID string `json:"instance_id"`
	// PID is the runner's own process id.
	PID int `json:"pid"`
	// StartedAt is when the runner started.
	StartedAt time.Time `json:"started_at"`
	// Mode is the current scheduler loop state.
	Mode RunnerMode `json:"mode"`
	// SocketPath is where clients can attach.
	SocketPath string `json:"socket_path"`
	// ActiveRuns lists runs currently in flight.
	ActiveRuns []RunRecord `json:"active_runs"`
	// Health summarizes per-agent circuit breaker state.
	Health []AgentHealth `json:"health"`
}
