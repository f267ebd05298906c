package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
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
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_cycle_runs_started_at ON cycle_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_cycle_runs_status ON cycle_runs(status);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate run history: %w", err)
	}
	return nil
}

// SaveRun saves or updates a run
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.CycleRun) error {
	query := `
		INSERT INTO cycle_runs
		(id, trigger_source, status, phase, groups_count, repositories_count, group_repositories_count,
		 artifacts_written, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			groups_count = EXCLUDED.groups_count,
			repositories_count = EXCLUDED.repositories_count,
			group_repositories_count = EXCLUDED.group_repositories_count,
			artifacts_written = EXCLUDED.artifacts_written,
			error = EXCLUDED.error,
			finished_at = COALESCE(EXCLUDED.finished_at, cycle_runs.finished_at)
	`
	var finishedAt *time.Time
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		finishedAt = &t
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Trigger, string(run.Status), string(run.Phase),
		run.Groups, run.Repositories, run.GroupRepositories, run.ArtifactsWritten,
		run.Error, run.StartedAt.UTC(), finishedAt)
	return err
}

// GetRun retrieves a run by ID
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.CycleRun, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run, err
}

// ListRuns retrieves the most recent runs
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.CycleRun, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT $1`, limit)
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
func (s *postgresStorage) Close() error {
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
