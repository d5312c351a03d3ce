package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Begin inserts a running row for run and returns its id. A missing id is
// generated; a zero StartedAt is set to now.
func (s *Store) Begin(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
            id, source_path, output_path, temp_dir, encoder, quality_mode, status,
            resumed, workers, chunks, total_frames, done_frames, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.SourcePath,
		run.OutputPath,
		run.TempDir,
		run.Encoder,
		run.QualityMode,
		StatusRunning,
		boolToInt(run.Resumed),
		run.Workers,
		run.Chunks,
		run.TotalFrames,
		run.DoneFrames,
		formatTime(run.StartedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.ID, nil
}

// UpdatePlan records plan details learned after the run started.
func (s *Store) UpdatePlan(ctx context.Context, id string, workers, chunks, totalFrames, doneFrames int) error {
	return s.exec(ctx, id,
		`UPDATE runs SET workers = ?, chunks = ?, total_frames = ?, done_frames = ? WHERE id = ?`,
		workers, chunks, totalFrames, doneFrames, id)
}

// Finish completes a run with its terminal status.
func (s *Store) Finish(ctx context.Context, id, status string, doneFrames int, runErr error) error {
	var message any
	if runErr != nil {
		message = runErr.Error()
	}
	return s.exec(ctx, id,
		`UPDATE runs SET status = ?, done_frames = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, doneFrames, message, formatTime(time.Now()), id)
}

// RecordChunk stores a chunk outcome. A chunk retried within the same run
// overwrites its earlier row.
func (s *Store) RecordChunk(ctx context.Context, runID string, c Chunk) error {
	var message any
	if c.Error != "" {
		message = c.Error
	}
	var cq any
	if c.CQ >= 0 {
		cq = c.CQ
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (run_id, name, result, frames, cq, quality_reason, elapsed_ms, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id, name) DO UPDATE SET
            result = excluded.result,
            frames = excluded.frames,
            cq = excluded.cq,
            quality_reason = excluded.quality_reason,
            elapsed_ms = excluded.elapsed_ms,
            error_message = excluded.error_message`,
		runID, c.Name, c.Result, c.Frames, cq, c.Reason, c.Elapsed.Milliseconds(), message)
	if err != nil {
		return fmt.Errorf("record chunk %s: %w", c.Name, err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
