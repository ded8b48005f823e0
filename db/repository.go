package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RunRecord is a row of the runs table: one invocation of the batch.
type RunRecord struct {
	ID         string    // UUID of the run
	Workspace  string    // Workspace directory
	Provider   string    // "replicate" or "openai"
	Prompt     string    // Prompt shared by every item
	BatchMode  bool      // Whether the selection came from batch mode
	Workers    int       // Resolved worker count
	Total      int       // Items submitted
	Succeeded  int       // Items inserted
	Failed     int       // Items that failed at some stage
	Skipped    int       // Items never scheduled after a cancel
	Errors     []string  // Distinct failure statuses
	DurationMS int64     // Wall time of the run
	CreatedAt  time.Time // When the run was recorded
}

// ItemRecord is a row of the run_items table: the outcome of one layer.
type ItemRecord struct {
	ID          int64
	RunID       string
	Position    int    // Completion order, 1-based
	LayerID     string // Source layer
	LayerName   string
	Stage       string // "succeeded", "skipped" or the stage that failed
	Status      string // Outcome line shown to the user
	ResultLayer string // Inserted layer, if any
	DurationMS  int64
}

// errorSeparator joins RunRecord.Errors in the errors column.
const errorSeparator = "\n"

// Repository reads and writes run history.
type Repository struct {
	db *Database
}

// NewRepository creates a Repository over db.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// InsertRun stores a run and its items in one transaction.
func (r *Repository) InsertRun(ctx context.Context, run RunRecord, items []ItemRecord) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workspace, provider, prompt, batch_mode, workers,
			total, succeeded, failed, skipped, errors, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workspace, run.Provider, run.Prompt, run.BatchMode, run.Workers,
		run.Total, run.Succeeded, run.Failed, run.Skipped,
		nullString(strings.Join(run.Errors, errorSeparator)),
		run.DurationMS, run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_items (run_id, position, layer_id, layer_name, stage,
			status, result_layer, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, run.ID, it.Position, it.LayerID, it.LayerName,
			it.Stage, it.Status, nullString(it.ResultLayer), it.DurationMS); err != nil {
			return fmt.Errorf("failed to insert item %q: %w", it.LayerName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, workspace, provider, prompt, batch_mode, workers, total,
			succeeded, failed, skipped, errors, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var errs sql.NullString
		if err := rows.Scan(&run.ID, &run.Workspace, &run.Provider, &run.Prompt,
			&run.BatchMode, &run.Workers, &run.Total, &run.Succeeded, &run.Failed,
			&run.Skipped, &errs, &run.DurationMS, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if errs.Valid && errs.String != "" {
			run.Errors = strings.Split(errs.String, errorSeparator)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RunItems returns the items of a run in completion order. id may be a
// unique prefix of the run ID.
func (r *Repository) RunItems(ctx context.Context, id string) ([]ItemRecord, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, run_id, position, layer_id, layer_name, stage, status,
			result_layer, duration_ms
		FROM run_items
		WHERE run_id = (SELECT id FROM runs WHERE id LIKE ? || '%' ORDER BY created_at DESC LIMIT 1)
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run items: %w", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var it ItemRecord
		var result sql.NullString
		if err := rows.Scan(&it.ID, &it.RunID, &it.Position, &it.LayerID, &it.LayerName,
			&it.Stage, &it.Status, &result, &it.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		it.ResultLayer = result.String
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run items: %w", err)
	}
	return items, nil
}

// CountRuns returns the number of stored runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// nullString converts empty strings to NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
