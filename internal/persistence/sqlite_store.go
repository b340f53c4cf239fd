package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

// SQLiteRunStore is a RunStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteRunStore struct {
	db *sql.DB
}

// Ensure SQLiteRunStore implements RunStore.
var _ RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore initializes the required schema in the given
// database and returns a new SQLiteRunStore.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			completed BLOB,
			pending BLOB,
			error TEXT NOT NULL DEFAULT '',
			context BLOB,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline ON pipeline_runs(pipeline, started_at);`,
	)
	return err
}

func (s *SQLiteRunStore) SaveRun(ctx context.Context, rec RunRecord) error {
	completed, pending, err := encodeStepLists(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, pipeline, status, completed, pending, error, context, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline,
			status = excluded.status,
			completed = excluded.completed,
			pending = excluded.pending,
			error = excluded.error,
			context = excluded.context,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
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

func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, status, completed, pending, error, context, started_at, finished_at
		FROM pipeline_runs
		WHERE id = ?`,
		id,
	)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrRunNotFound
	}
	return rec, err
}

func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, pipeline, status, completed, pending, error, context, started_at, finished_at
		FROM pipeline_runs`
	var args []any
	var clauses []string

	if filter.Pipeline != "" {
		clauses = append(clauses, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec                 RunRecord
		status              string
		completed, pending  []byte
		errStr              sql.NullString
		startedAt, finished int64
	)
	if err := row.Scan(&rec.ID, &rec.Pipeline, &status, &completed, &pending, &errStr, &rec.Context, &startedAt, &finished); err != nil {
		return RunRecord{}, err
	}

	rec.Status = api.Status(status)
	rec.Error = errStr.String
	rec.StartedAt = fromUnixNano(startedAt)
	rec.FinishedAt = fromUnixNano(finished)

	var err error
	if rec.Completed, err = DecodeValue[[]string](completed); err != nil {
		return RunRecord{}, err
	}
	if rec.Pending, err = DecodeValue[[]string](pending); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

func encodeStepLists(rec RunRecord) (completed, pending []byte, err error) {
	if completed, err = encodeNames(rec.Completed); err != nil {
		return nil, nil, err
	}
	if pending, err = encodeNames(rec.Pending); err != nil {
		return nil, nil, err
	}
	return completed, pending, nil
}

func encodeNames(names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return EncodeValue(names)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
