package state

import (
	"database/sql"
	"fmt"

	"github.com/herdctl/herd/pkg/models"
)

// UpsertHealth persists an agent's health counters. The health tracker
// writes through after every recorded outcome so backoff windows survive
// restarts.
func (db *DB) UpsertHealth(h models.AgentHealth) error {
	_, err := db.Exec(`
		INSERT INTO agent_health (agent, consecutive_failures, last_success, last_failure, backoff_until, total_runs, total_successes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			last_success = excluded.last_success,
			last_failure = excluded.last_failure,
			backoff_until = excluded.backoff_until,
			total_runs = excluded.total_runs,
			total_successes = excluded.total_successes
	`, h.Agent, h.ConsecutiveFailures, nullableTimeArg(h.LastSuccess),
		nullableTimeArg(h.LastFailure), nullableTimeArg(h.BackoffUntil),
		h.TotalRuns, h.TotalSuccesses)
	if err != nil {
		return fmt.Errorf("upsert health: %w", err)
	}
	return nil
}

// ListHealth returns all persisted agent health entries.
func (db *DB) ListHealth() ([]models.AgentHealth, error) {
	rows, err := db.Query(`
		SELECT agent, consecutive_failures, last_success, last_failure, backoff_until, total_runs, total_successes
		FROM agent_health
	`)
	if err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	defer rows.Close()

	var entries []models.AgentHealth
	for rows.Next() {
		var h models.AgentHealth
		var lastSuccess, lastFailure, backoffUntil sql.NullString

		err := rows.Scan(&h.Agent, &h.ConsecutiveFailures, &lastSuccess, &lastFailure,
			&backoffUntil, &h.TotalRuns, &h.TotalSuccesses)
		if err != nil {
			return nil, fmt.Errorf("list health: %w", err)
		}
		h.LastSuccess = parseNullableTime(lastSuccess)
		h.LastFailure = parseNullableTime(lastFailure)
		h.BackoffUntil = parseNullableTime(backoffUntil)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}
