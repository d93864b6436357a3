// Package reconcile repairs run state left behind by a process that exited
// mid-run. Callers must hold the run lock.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/phasekit/internal/model"
	"github.com/rs/zerolog/log"
)

// Result summarizes a reconciliation pass.
type Result struct {
	Interrupted []string
	Orphaned    []string
}

// Run marks runs still recorded as running as interrupted and reports run
// directories under stateDir/runs that have no database record.
func Run(ctx context.Context, db *sql.DB, stateDir string) (Result, error) {
	var res Result

	ids, err := runningRuns(ctx, db)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if err := markInterrupted(ctx, db, id); err != nil {
			return res, err
		}
		log.Warn().Str("run_id", id).Msg("run was left running; marked interrupted")
		res.Interrupted = append(res.Interrupted, id)
	}

	entries, err := os.ReadDir(filepath.Join(stateDir, "runs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("read runs dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var exists int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id=?`, entry.Name()).Scan(&exists); err != nil {
			return res, fmt.Errorf("check run %s: %w", entry.Name(), err)
		}
		if exists == 0 {
			log.Debug().Str("run_id", entry.Name()).Msg("run dir has no database record")
			res.Orphaned = append(res.Orphaned, entry.Name())
		}
	}
	return res, nil
}

func runningRuns(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id FROM runs WHERE status=? ORDER BY created_at`, model.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return ids, nil
}

func markInterrupted(ctx context.Context, db *sql.DB, runID string) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, ended_at=? WHERE run_id=?`,
		model.RunStatusInterrupted, now.Format(time.RFC3339), runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mark run interrupted: %w", err)
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID).Scan(&seq); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("read event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message) VALUES(?, ?, ?, ?, ?)`,
		runID, seq+1, now.Format(time.RFC3339Nano), "run_interrupted", "Run was still marked running at startup; marked interrupted during recovery"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert reconcile event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	return nil
}
