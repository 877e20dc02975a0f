package models

import "time"

// AgentHealth is the per-agent failure ledger backing the circuit breaker.
// It is mutated only by the health tracker in response to completion events.
type AgentHealth struct {
	// Agent is the agent name this ledger belongs to.
	Agent string `json:"agent"`
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastSuccess is when the agent last completed a run successfully.
	LastSuccess *time.Time `json:"last_success,omitempty"`
	// LastFailure is when the agent last failed a run.
	LastFailure *time.Time `json:"last_failure,omitempty"`
	// BackoffUntil is the end of the current backoff window, if any.
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	// TotalRuns counts all completed runs for this agent.
	TotalRuns int64 `json:"total_runs"`
	// TotalSuccesses counts all successful runs for this agent.
	TotalSuccesses int64 `json:"total_successes"`
}

// InBackoff returns true if the agent is inside a backoff window at now.
func (h *AgentHealth) InBackoff(now time.Time) bool {
	return h.BackoffUntil != nil && now.Before(*h.BackoffUntil)
}
