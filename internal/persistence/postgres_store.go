package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRunStore is a RunStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver, typically
// "github.com/jackc/pgx/v5/stdlib". OpenPostgres does the wiring for the
// common case.
type PostgresRunStore struct {
	db *sql.DB
}

// Ensure PostgresRunStore implements RunStore.
var _ RunStore = (*PostgresRunStore)(nil)

// OpenPostgres opens a database/sql handle through the pgx driver and
// verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// NewPostgresRunStore initializes the required schema in the given
// database and returns a new PostgresRunStore.
func NewPostgresRunStore(db *sql.DB) (*PostgresRunStore, error) {
	s := &PostgresRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			completed BYTEA,
			pending BYTEA,
			error TEXT NOT NULL DEFAULT '',
			context BYTEA,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL
		);
	`)
	return err
}

func (s *PostgresRunStore) SaveRun(ctx context.Context, rec RunRecord) error {
	completed, pending, err := encodeStepLists(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, pipeline, status, completed, pending, error, context, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			pipeline    = EXCLUDED.pipeline,
			status      = EXCLUDED.status,
			completed   = EXCLUDED.completed,
			pending     = EXCLUDED.pending,
			error       = EXCLUDED.error,
			context     = EXCLUDED.context,
			started_at  = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		rec.ID,
		rec.Pipeline,
		string(rec.Status),
		completed,
		pending,
		rec.Error,
		rec.Context,
		unixNano(rec.StartedAt),
		unixNano(rec.FinishedAt),
	)
	return err
}

func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, status, completed, pending, error, context, started_at, finished_at
		FROM pipeline_runs
		WHERE id = $1
	`,
		id,
	)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	return rec, err
}

func (s *PostgresRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, pipeline, status, completed, pending, error, context, started_at, finished_at
		FROM pipeline_runs`
	var args []any
	var clauses []string

	if filter.Pipeline != "" {
		clauses = append(clauses, fmt.Sprintf("pipeline = $%d", len(args)+1))
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}
