package conduit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/conduit/internal/logging"
	"github.com/petrijr/conduit/internal/persistence"
	"github.com/petrijr/conduit/pkg/api"
	"github.com/petrijr/conduit/pkg/config"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Context              = api.Context
	Outcome              = api.Outcome
	Action               = api.Action
	RollbackFunc         = api.RollbackFunc
	CleanupFunc          = api.CleanupFunc
	StepDefinition       = api.StepDefinition
	RetryPolicy          = api.RetryPolicy
	Status               = api.Status
	RunInfo              = api.RunInfo
	RunSummary           = api.RunSummary
	RunEvent             = api.RunEvent
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	StepError               = api.StepError
	MaxRetriesError         = api.MaxRetriesError
	CheckpointNotFoundError = api.CheckpointNotFoundError
	NoBranchError           = api.NoBranchError
	MissingKeyError         = api.MissingKeyError
	PanicError              = api.PanicError
	RollbackError           = api.RollbackError
	CompensationFailure     = api.CompensationFailure

	RunStore   = persistence.RunStore
	EventStore = persistence.EventStore
	RunRecord  = persistence.RunRecord
	RunFilter  = persistence.RunFilter
)

// Re-export outcome constructors and observer helpers.

var (
	Ok        = api.Ok
	Ack       = api.Ack
	Fail      = api.Fail
	Failf     = api.Failf
	FromError = api.FromError

	NewContext = api.NewContext

	ReasonOf    = api.ReasonOf
	FailedStep  = api.FailedStep
	IsTimeout   = api.IsTimeout
	ReasonError = api.ReasonError

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	ErrTimeout     = api.ErrTimeout
	ErrRunNotFound = persistence.ErrRunNotFound
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusTimedOut  = api.StatusTimedOut
)

// Run-history constructors.
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewInMemoryRunStore returns a store for run records and events kept in
// process memory.
func NewInMemoryRunStore() *persistence.InMemoryStore {
	return persistence.NewInMemoryStore()
}

// NewSQLiteRunStore creates the run table in db if needed. The caller must
// import a SQLite driver, e.g. _ "modernc.org/sqlite".
func NewSQLiteRunStore(db *sql.DB) (RunStore, error) {
	s, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteEventStore creates the event table in db if needed.
func NewSQLiteEventStore(db *sql.DB) (EventStore, error) {
	s, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens and pings a PostgreSQL database through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	return persistence.OpenPostgres(ctx, dsn)
}

// NewPostgresRunStore creates the run table in db if needed.
func NewPostgresRunStore(db *sql.DB) (RunStore, error) {
	s, err := persistence.NewPostgresRunStore(db)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewRedisRunStore returns a Redis-backed store. prefix defaults to
// "conduit:".
func NewRedisRunStore(client *redis.Client, prefix string) RunStore {
	return persistence.NewRedisRunStore(client, prefix)
}

// NewMongoStore returns a MongoDB-backed store serving as both RunStore and
// EventStore. dbName defaults to "conduit".
func NewMongoStore(client *mongo.Client, dbName string) *persistence.MongoStore {
	return persistence.NewMongoStore(client, dbName)
}

// DecodeRunContext restores the context saved in a run record.
func DecodeRunContext(rec RunRecord) (Context, error) {
	return rec.Snapshot()
}

// NewLogger returns a JSON slog logger writing to stderr at level
// ("debug", "info", "warn" or "error").
func NewLogger(level string) *slog.Logger {
	return logging.New(level)
}

// OptionsFromConfig translates a loaded configuration into pipeline
// options: a JSON logger at the configured level, the telemetry prefix and
// the default timeout.
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts := []Option{WithLogger(logging.New(cfg.LogLevel))}
	if len(cfg.TelemetryPrefix) > 0 {
		opts = append(opts, WithTelemetryPrefix(cfg.TelemetryPrefix...))
	}
	if d := cfg.DefaultTimeout.Duration(); d > 0 {
		opts = append(opts, WithDefaultTimeout(d))
	}
	return opts, nil
}
