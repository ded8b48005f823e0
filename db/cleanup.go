package db

import (
	"context"
	"fmt"
	"time"
)

// PruneResult reports what Prune removed.
type PruneResult struct {
	RunsDeleted int64
	Duration    time.Duration
}

// Prune deletes runs older than retentionDays; their items go with them
// through the foreign key cascade. A retention of zero or less is a no-op.
func (d *Database) Prune(ctx context.Context, retentionDays int) (PruneResult, error) {
	start := time.Now()
	var result PruneResult
	if retentionDays <= 0 {
		return result, nil
	}

	conn, err := d.conn()
	if err != nil {
		return result, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()
	res, err := conn.ExecContext(ctx, "DELETE FROM runs WHERE created_at < ?", cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to prune runs: %w", err)
	}
	result.RunsDeleted, _ = res.RowsAffected()
	result.Duration = time.Since(start)
	return result, nil
}
