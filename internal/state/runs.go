package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trigger identifies what started a sync run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerCLI       Trigger = "cli"
)

// RunStatus is the overall outcome of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// MappingStatus is the outcome of syncing one mapping.
type MappingStatus string

const (
	StatusOK           MappingStatus = "ok"
	StatusAuthError    MappingStatus = "auth_error"
	StatusRateLimited  MappingStatus = "rate_limited"
	StatusNetworkError MappingStatus = "network_error"
	StatusNotFound     MappingStatus = "not_found"
	StatusError        MappingStatus = "error"
	StatusSkipped      MappingStatus = "skipped"
)

// MappingResult summarizes one mapping within a run.
type MappingResult struct {
	MappingID      int64         `json:"mappingId"`
	CollectionName string        `json:"collectionName"`
	Status         MappingStatus `json:"status"`
	Listed         int           `json:"listed"`
	Matched        int           `json:"matched"`
	Ignored        int           `json:"ignored"`
	Missing        int           `json:"missing"`
	Added          int           `json:"added"`
	Removed        int           `json:"removed"`
	Error          string        `json:"error,omitempty"`
}

// Run is one reconciliation cycle.
type Run struct {
	ID         string          `json:"id"`
	Trigger    Trigger         `json:"trigger"`
	Status     RunStatus       `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
	Results    []MappingResult `json:"results"`
}

// Summarize derives the run status from its mapping results.
func (r *Run) Summarize() {
	if r.Error != "" {
		r.Status = RunFailed
		return
	}
	failed := 0
	for _, res := range r.Results {
		if res.Status != StatusOK {
			failed++
		}
	}
	switch {
	case failed == 0:
		r.Status = RunCompleted
	case failed == len(r.Results):
		r.Status = RunFailed
	default:
		r.Status = RunPartial
	}
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, trigger Trigger) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: time.Unix(s.now().Unix(), 0),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, trigger, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun stores the final status and per-mapping results of run.
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Unix(s.now().Unix(), 0)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(run.Status), run.FinishedAt.Unix(), run.Error, run.ID); err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}

	for _, r := range run.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sync_run_mappings
			 (run_id, mapping_id, collection_name, status, listed, matched, ignored, missing, added, removed, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, r.MappingID, r.CollectionName, string(r.Status),
			r.Listed, r.Matched, r.Ignored, r.Missing, r.Added, r.Removed, r.Error); err != nil {
			return fmt.Errorf("failed to record mapping result: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs with their results, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger, status, started_at, finished_at, error
		 FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			trigger, status   string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &trigger, &status, &started, &finished, &r.Error); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Trigger = Trigger(trigger)
		r.Status = RunStatus(status)
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = timeOrZero(finished)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		results, err := s.runResults(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = results
	}
	return runs, nil
}

// LastRun returns the most recent run, or nil if none has happened.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Store) runResults(ctx context.Context, runID string) ([]MappingResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mapping_id, collection_name, status, listed, matched, ignored, missing, added, removed, error
		 FROM sync_run_mappings WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run results: %w", err)
	}
	defer rows.Close()

	out := []MappingResult{}
	for rows.Next() {
		var (
			r      MappingResult
			status string
		)
		if err := rows.Scan(&r.MappingID, &r.CollectionName, &status, &r.Listed, &r.Matched,
			&r.Ignored, &r.Missing, &r.Added, &r.Removed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run result: %w", err)
		}
		r.Status = MappingStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes finished runs that started before cutoff.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_runs WHERE started_at < ? AND status != ?`, cutoff.Unix(), string(RunRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}
