package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

// CreateRun inserts a run record. Called by the supervisor before it
// tracks the subprocess, so the database never lags reality.
func (db *DB) CreateRun(rec *models.RunRecord) error {
	if !rec.Status.Valid() {
		return fmt.Errorf("create run: invalid status %q", rec.Status)
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, work_item_id, agent, pid, status, started_at, ended_at, exit_code, failure, output_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.WorkItemID, rec.Agent, rec.PID, string(rec.Status),
		formatTime(rec.StartedAt), nullableTimeArg(rec.EndedAt), rec.ExitCode,
		string(rec.Failure), rec.OutputPath)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (db *DB) GetRun(id string) (*models.RunRecord, error) {
	row := db.QueryRow(`
		SELECT id, work_item_id, agent, pid, status, started_at, ended_at, exit_code, failure, output_path
		FROM runs WHERE id = ?
	`, id)

	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// CompleteRun finalizes a run with its terminal status, exit code, and
// failure classification.
func (db *DB) CompleteRun(id string, status models.RunStatus, exitCode int, failure models.FailureType, endedAt time.Time) error {
	if status == models.RunRunning {
		return fmt.Errorf("complete run: %q is not a terminal status", status)
	}
	res, err := db.Exec(`
		UPDATE runs SET status = ?, exit_code = ?, failure = ?, ended_at = ?
		WHERE id = ?
	`, string(status), exitCode, string(failure), formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListActiveRuns returns runs still marked running. After a crash these
// are the candidates for orphan reconciliation.
func (db *DB) ListActiveRuns() ([]*models.RunRecord, error) {
	rows, err := db.Query(`
		SELECT id, work_item_id, agent, pid, status, started_at, ended_at, exit_code, failure, output_path
		FROM runs WHERE status = ?
	`, string(models.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	var recs []*models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list active runs: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListRunsForItem returns the item's run history, newest first.
func (db *DB) ListRunsForItem(workItemID string) ([]*models.RunRecord, error) {
	rows, err := db.Query(`
		SELECT id, work_item_id, agent, pid, status, started_at, ended_at, exit_code, failure, output_path
		FROM runs WHERE work_item_id = ? ORDER BY started_at DESC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list runs for item: %w", err)
	}
	defer rows.Close()

	var recs []*models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs for item: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRun(s scanner) (*models.RunRecord, error) {
	var rec models.RunRecord
	var startedAt string
	var endedAt, failure, outputPath sql.NullString

	err := s.Scan(&rec.ID, &rec.WorkItemID, &rec.Agent, &rec.PID, &rec.Status,
		&startedAt, &endedAt, &rec.ExitCode, &failure, &outputPath)
	if err != nil {
		return nil, err
	}

	rec.StartedAt, _ = parseTime(startedAt)
	rec.EndedAt = parseNullableTime(endedAt)
	if failure.Valid {
		rec.Failure = models.FailureType(failure.String)
	}
	if outputPath.Valid {
		rec.OutputPath = outputPath.String
	}
	return &rec, nil
}
