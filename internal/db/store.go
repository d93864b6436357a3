package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/phasekit/internal/model"
	"github.com/metalagman/phasekit/internal/telemetry"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for runs, phases and events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for run persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is a persisted run summary.
type RunRecord struct {
	RunID           string
	CreatedAt       time.Time
	Pipeline        string
	Status          string
	RunDir          string
	EndedAt         *time.Time
	TotalReward     int
	RollbackApplied bool
	Duration        time.Duration
}

// PhaseRecord is a persisted phase outcome.
type PhaseRecord struct {
	Index  int
	Result model.PhaseResult
}

// EventRecord is a persisted timeline event.
type EventRecord struct {
	Seq      int
	Time     time.Time
	Type     string
	Phase    string
	AgentKey string
	Message  string
	DataJSON string
}

// CreateRun inserts a run record in the running state.
func (s *Store) CreateRun(ctx context.Context, runID, pipeline, runDir string) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, pipeline, status, run_dir)
		VALUES(?, ?, ?, ?, ?)`,
		runID, createdAt, pipeline, model.RunStatusRunning, runDir); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordPhase stores one phase outcome. Recording the same index twice replaces it.
func (s *Store) RecordPhase(ctx context.Context, runID string, index int, res model.PhaseResult) error {
	results, err := json.Marshal(res.Results)
	if err != nil {
		return fmt.Errorf("encode phase results: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO phases(run_id, phase_index, phase, success, reward, batches, attempts, gate_outcome, failed_agent, error, duration_ms, results_json)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, index, res.Phase, res.Success, res.Reward, res.Batches, res.Attempts,
		nullableString(res.GateOutcome), nullableString(res.FailedAgent), nullableString(res.Error),
		res.Duration.Milliseconds(), string(results)); err != nil {
		return fmt.Errorf("insert phase: %w", err)
	}
	return nil
}

// FinishRun stores the final status and totals of a run.
func (s *Store) FinishRun(ctx context.Context, res model.RunResult) error {
	endedAt := time.Now().UTC().Format(time.RFC3339)
	out, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, ended_at=?, total_reward=?, rollback_applied=?, duration_ms=? WHERE run_id=?`,
		res.Status, endedAt, res.TotalReward, res.RollbackApplied, res.Duration.Milliseconds(), res.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", res.RunID, ErrRunNotFound)
	}
	return nil
}

// MarkRun sets a run status without touching totals.
func (s *Store) MarkRun(ctx context.Context, runID, status string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status=? WHERE run_id=?`, status, runID); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// InsertEvent appends an event to a run's timeline.
func (s *Store) InsertEvent(ctx context.Context, ev telemetry.Event) error {
	var dataJSON string
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		dataJSON = string(raw)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert event: %w", err)
	}
	seq, err := s.nextSeq(ctx, tx, ev.RunID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, phase, agent_key, message, data_json) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ts.UTC().Format(time.RFC3339Nano), ev.Type,
		nullableString(ev.Phase), nullableString(ev.AgentKey), nullableString(ev.Message), nullableString(dataJSON)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

const runColumns = `run_id, created_at, pipeline, status, run_dir, ended_at, total_reward, rollback_applied, duration_ms`

// ListRuns returns runs newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run together with its phases and events.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a run with its phases in execution order.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, []PhaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return RunRecord{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT phase_index, phase, success, reward, batches, attempts, gate_outcome, failed_agent, error, duration_ms, results_json
		FROM phases WHERE run_id=? ORDER BY phase_index`, runID)
	if err != nil {
		return RunRecord{}, nil, fmt.Errorf("list phases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var phases []PhaseRecord
	for rows.Next() {
		var (
			p                         PhaseRecord
			gateOutcome, failed, errS sql.NullString
			durationMs                int64
			resultsJSON               string
		)
		if err := rows.Scan(&p.Index, &p.Result.Phase, &p.Result.Success, &p.Result.Reward, &p.Result.Batches, &p.Result.Attempts,
			&gateOutcome, &failed, &errS, &durationMs, &resultsJSON); err != nil {
			return RunRecord{}, nil, fmt.Errorf("scan phase: %w", err)
		}
		p.Result.GateOutcome = gateOutcome.String
		p.Result.FailedAgent = failed.String
		p.Result.Error = errS.String
		p.Result.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(resultsJSON), &p.Result.Results); err != nil {
			return RunRecord{}, nil, fmt.Errorf("decode phase results: %w", err)
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, nil, fmt.Errorf("iterate phases: %w", err)
	}
	return rec, phases, nil
}

// Events returns a run's timeline in order.
func (s *Store) Events(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, phase, agent_key, message, data_json FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRecord
	for rows.Next() {
		var (
			ev                            EventRecord
			ts                            string
			phase, agentKey, msg, dataRaw sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &phase, &agentKey, &msg, &dataRaw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Phase = phase.String
		ev.AgentKey = agentKey.String
		ev.Message = msg.String
		ev.DataJSON = dataRaw.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec        RunRecord
		createdAt  string
		endedAt    sql.NullString
		durationMs int64
	)
	if err := row.Scan(&rec.RunID, &createdAt, &rec.Pipeline, &rec.Status, &rec.RunDir, &endedAt,
		&rec.TotalReward, &rec.RollbackApplied, &durationMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339, endedAt.String); err == nil {
			rec.EndedAt = &t
		}
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
