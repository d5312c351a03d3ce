package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, source_path, output_path, temp_dir, encoder, quality_mode, status, resumed, workers, chunks, total_frames, done_frames, error_message, started_at, finished_at"

// Get returns the run with the given id. A unique id prefix is accepted.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2", id, id+"%")
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return Run{}, err
	}
	switch {
	case len(runs) == 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case len(runs) > 1 && runs[0].ID != id:
		return Run{}, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
	return runs[0], nil
}

// List returns the most recent runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// Chunks returns the chunk rows of a run ordered by name.
func (s *Store) Chunks(ctx context.Context, runID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, result, frames, cq, quality_reason, elapsed_ms, error_message
        FROM chunks WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c       Chunk
			cq      sql.NullInt64
			reason  sql.NullString
			elapsed int64
			message sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Result, &c.Frames, &cq, &reason, &elapsed, &message); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CQ = -1
		if cq.Valid {
			c.CQ = int(cq.Int64)
		}
		c.Reason = reason.String
		c.Elapsed = time.Duration(elapsed) * time.Millisecond
		c.Error = message.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Prune deletes finished runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE status != ? AND started_at < ?", StatusRunning, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		resumed     int
		message     sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.SourcePath,
		&run.OutputPath,
		&run.TempDir,
		&run.Encoder,
		&run.QualityMode,
		&run.Status,
		&resumed,
		&run.Workers,
		&run.Chunks,
		&run.TotalFrames,
		&run.DoneFrames,
		&message,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Resumed = resumed != 0
	run.Error = message.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		run.FinishedAt = parseTime(finishedRaw.String)
	}
	return run, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
