package models

import "time"

// RunStatus represents the state of a single spawn attempt.
type RunStatus string

const (
	// RunRunning indicates the subprocess is still alive.
	RunRunning RunStatus = "running"
	// RunSucceeded indicates the subprocess exited zero.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates the subprocess exited nonzero, was killed,
	// or was found dead during startup reconciliation.
	RunFailed RunStatus = "failed"
)

// Valid returns true if the run status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSucceeded, RunFailed:
		return true
	default:
		return false
	}
}

// FailureType classifies why a run failed.
type FailureType string

const (
	// FailureNetwork covers likely-transient connectivity failures.
	FailureNetwork FailureType = "network_error"
	// FailureRateLimited covers provider rate-limit rejections.
	FailureRateLimited FailureType = "rate_limited"
	// FailureTimeout covers runs killed for exceeding the allowed duration.
	FailureTimeout FailureType = "timeout"
	// FailurePermission covers runs that need human input to proceed.
	// These are never retried automatically.
	FailurePermission FailureType = "permission_blocked"
	// FailureCrash covers nonzero exits with no clearer classification.
	FailureCrash FailureType = "crash"
	// FailureOrphaned covers runs whose process died while no runner owned it.
	// Only assigned during startup reconciliation.
	FailureOrphaned FailureType = "orphaned"
)

// Valid returns true if the failure type is a known value.
func (f FailureType) Valid() bool {
	switch f {
	case FailureNetwork, FailureRateLimited, FailureTimeout, FailurePermission, FailureCrash, FailureOrphaned:
		return true
	default:
		return false
	}
}

// RunRecord is the durable record of one spawn attempt.
// It is created when the subprocess starts and completed exactly once at
// exit, except for a terminal correction during startup reconciliation.
type RunRecord struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// WorkItemID is the item this run executed.
	WorkItemID string `json:"work_item_id"`
	// Agent is the agent name the item was routed to.
	Agent string `json:"agent"`
	// PID is the OS process id of the subprocess.
	PID int `json:"pid"`
	// Status is the current state of the run.
	Status RunStatus `json:"status"`
	// StartedAt is when the subprocess was spawned.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the subprocess exited, if it has.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// ExitCode is the subprocess exit code; meaningful once EndedAt is set.
	ExitCode int `json:"exit_code"`
	// Failure classifies the failure; empty for successful runs.
	Failure FailureType `json:"failure,omitempty"`
	// OutputPath is where the captured output is durably stored.
	OutputPath string `json:"output_path,omitempty"`
}
