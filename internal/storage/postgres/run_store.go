package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

// RunStore implements catalog.RunStore over the sync_runs table.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

const (
	insertRun = `INSERT INTO sync_runs (id, started_at, status) VALUES ($1, $2, $3)`
	updateRun = `UPDATE sync_runs SET finished_at = $1, status = $2, enumeration_complete = $3, discovered = $4, succeeded = $5, failed = $6, skipped = $7, removed = $8, outcomes = $9, error_message = $10 WHERE id = $11`
	listRuns  = `SELECT id, started_at, finished_at, status, enumeration_complete, discovered, succeeded, failed, skipped, removed, outcomes, error_message FROM sync_runs ORDER BY started_at DESC LIMIT $1`
)

// StartRun inserts a new active run.
func (s *RunStore) StartRun(ctx context.Context, run catalog.SyncRun) error {
	if _, err := s.pool.Exec(ctx, insertRun, run.ID, run.StartedAt, string(run.Status)); err != nil {
		return fmt.Errorf("insert sync run %s: %w", run.ID, err)
	}
	return nil
}

// CompleteRun stores the final summary of a run.
func (s *RunStore) CompleteRun(ctx context.Context, run catalog.SyncRun) error {
	removed, err := json.Marshal(nonNil(run.Removed))
	if err != nil {
		return fmt.Errorf("marshal removed: %w", err)
	}
	outcomes, err := json.Marshal(nonNil(run.Outcomes))
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateRun,
		run.FinishedAt,
		string(run.Status),
		run.EnumerationComplete,
		run.Discovered,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		removed,
		outcomes,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("complete sync run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *RunStore) LatestRun(ctx context.Context) (catalog.SyncRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return catalog.SyncRun{}, err
	}
	if len(runs) == 0 {
		return catalog.SyncRun{}, catalog.ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]catalog.SyncRun, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, listRuns, lim)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []catalog.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (catalog.SyncRun, error) {
	var (
		run      catalog.SyncRun
		status   string
		removed  []byte
		outcomes []byte
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.EnumerationComplete,
		&run.Discovered,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&removed,
		&outcomes,
		&run.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.SyncRun{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.SyncRun{}, fmt.Errorf("scan sync run: %w", err)
	}
	run.Status = catalog.RunStatus(status)
	if len(removed) > 0 {
		if err := json.Unmarshal(removed, &run.Removed); err != nil {
			return catalog.SyncRun{}, fmt.Errorf("decode removed of %s: %w", run.ID, err)
		}
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &run.Outcomes); err != nil {
			return catalog.SyncRun{}, fmt.Errorf("decode outcomes of %s: %w", run.ID, err)
		}
	}
	if len(run.Removed) == 0 {
		run.Removed = nil
	}
	if len(run.Outcomes) == 0 {
		run.Outcomes = nil
	}
	return run, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
