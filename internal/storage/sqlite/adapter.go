package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycle_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		groups_count INTEGER NOT NULL DEFAULT 0,
		repositories_count INTEGER NOT NULL DEFAULT 0,
		group_repositories_count INTEGER NOT NULL DEFAULT 0,
		artifacts_written INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cycle_runs_started_at ON cycle_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_cycle_runs_status ON cycle_runs(status);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate run history: %w", err)
	}
	return nil
}

// SaveRun saves or updates a run
func (s *sqliteStorage) SaveRun(ctx context.Context, run *domain.CycleRun) error {
	query := `
		INSERT INTO cycle_runs
		(id, trigger_source, status, phase, groups_count, repositories_count, group_repositories_count,
		 artifacts_written, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			groups_count = excluded.groups_count,
			repositories_count = excluded.repositories_count,
			group_repositories_count = excluded.group_repositories_count,
			artifacts_written = excluded.artifacts_written,
			error = excluded.error,
			finished_at = excluded.finished_at
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Trigger, string(run.Status), string(run.Phase),
		run.Groups, run.Repositories, run.GroupRepositories, run.ArtifactsWritten,
		run.Error, run.StartedAt.UTC(), utcOrNil(run.FinishedAt))
	return err
}

// GetRun retrieves a run by ID
func (s *sqliteStorage) GetRun(ctx context.Context, id string) (*domain.CycleRun, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run, err
}

// ListRuns retrieves the most recent runs
func (s *sqliteStorage) ListRuns(ctx context.Context, limit int) ([]*domain.CycleRun, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.CycleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

const selectRuns = `
	SELECT id, trigger_source, status, phase, groups_count, repositories_count, group_repositories_count,
	       artifacts_written, error, started_at, finished_at
	FROM cycle_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.CycleRun, error) {
	var (
		run        domain.CycleRun
		status     string
		phase      string
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Trigger, &status, &phase,
		&run.Groups, &run.Repositories, &run.GroupRepositories, &run.ArtifactsWritten,
		&run.Error, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Phase = domain.Phase(phase)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
