package conduit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/conduit/internal/testutil"
	"github.com/petrijr/conduit/pkg/api"
	"github.com/petrijr/conduit/pkg/config"
)

// HistoryTestSuite runs the same pipelines against every embedded run
// store.
type HistoryTestSuite struct {
	suite.Suite
	newStores func(t *testing.T) (RunStore, EventStore)
}

func (s *HistoryTestSuite) TestCompletedRunIsRecorded() {
	runs, events := s.newStores(s.T())
	ctx := context.Background()

	out := New(map[string]any{"x": 5}, WithName("math"), WithRunStore(runs, events)).
		Step("addTen", addTo("x", 10)).
		Step("double", mulBy("x", 2)).
		Execute(ctx)
	s.Require().NoError(out.Err())

	rec, err := runs.GetRun(ctx, out.RunID())
	s.Require().NoError(err)
	s.Equal("math", rec.Pipeline)
	s.Equal(api.StatusCompleted, rec.Status)
	s.Equal([]string{"addTen", "double"}, rec.Completed)
	s.Empty(rec.Pending)
	s.Empty(rec.Error)
	s.False(rec.FinishedAt.Before(rec.StartedAt))

	c, err := DecodeRunContext(rec)
	s.Require().NoError(err)
	s.Equal(30, c.Get("x"))

	if events == nil {
		return
	}
	evs, err := events.ListEvents(ctx, out.RunID())
	s.Require().NoError(err)
	types := make([]api.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	s.Equal([]api.EventType{
		api.EventPipelineStarted,
		api.EventStepStarted,
		api.EventStepCompleted,
		api.EventStepStarted,
		api.EventStepCompleted,
		api.EventPipelineCompleted,
	}, types)
}

func (s *HistoryTestSuite) TestFailedRunIsRecordedAndFiltered() {
	runs, events := s.newStores(s.T())
	ctx := context.Background()

	ok := New(nil, WithName("checkout"), WithRunStore(runs, events)).
		Step("a", addTo("x", 1)).
		Execute(ctx)
	failed := New(nil, WithName("checkout"), WithRunStore(runs, events)).
		Step("reserve", addTo("x", 1), WithRollback(func(context.Context, api.Context) error { return nil })).
		Step("pay", failWith("declined")).
		ExecuteWithRollback(ctx)
	s.Require().True(failed.Halted())

	rec, err := runs.GetRun(ctx, failed.RunID())
	s.Require().NoError(err)
	s.Equal(api.StatusFailed, rec.Status)
	s.Equal([]string{"pay"}, rec.Pending)
	s.Contains(rec.Error, "declined")

	list, err := runs.ListRuns(ctx, RunFilter{Pipeline: "checkout", Status: api.StatusFailed})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(failed.RunID(), list[0].ID)

	all, err := runs.ListRuns(ctx, RunFilter{Pipeline: "checkout"})
	s.Require().NoError(err)
	s.Len(all, 2)
	s.NotEqual(ok.RunID(), failed.RunID())

	if events == nil {
		return
	}
	evs, err := events.ListEvents(ctx, failed.RunID())
	s.Require().NoError(err)
	var rolledBack bool
	for _, ev := range evs {
		if ev.Type == api.EventStepRolledBack && ev.Step == "reserve" {
			rolledBack = true
		}
	}
	s.True(rolledBack)
}

func (s *HistoryTestSuite) TestTimedOutRunIsRecorded() {
	runs, events := s.newStores(s.T())
	ctx := context.Background()

	out := New(nil, WithName("slow"), WithRunStore(runs, events)).
		Step("sleep", stubbornStep(50*time.Millisecond)).
		ExecuteWithTimeout(ctx, 10*time.Millisecond)
	s.Require().ErrorIs(out.Err(), api.ErrTimeout)

	// The record is final as soon as the caller has its result.
	rec, err := runs.GetRun(ctx, out.RunID())
	s.Require().NoError(err)
	s.Equal(api.StatusTimedOut, rec.Status)
	s.Equal(api.ErrTimeout.Error(), rec.Error)
	s.Equal([]string{"sleep"}, rec.Pending)

	// The abandoned step finishing later changes nothing.
	time.Sleep(100 * time.Millisecond)
	rec, err = runs.GetRun(ctx, out.RunID())
	s.Require().NoError(err)
	s.Equal(api.StatusTimedOut, rec.Status)

	if events == nil {
		return
	}
	evs, err := events.ListEvents(ctx, out.RunID())
	s.Require().NoError(err)
	s.Require().NotEmpty(evs)
	s.Equal(api.EventPipelineFailed, evs[len(evs)-1].Type)
	for _, ev := range evs {
		s.NotEqual(api.EventStepCompleted, ev.Type)
	}
}

func (s *HistoryTestSuite) TestMissingRun() {
	runs, _ := s.newStores(s.T())
	_, err := runs.GetRun(context.Background(), "missing")
	s.ErrorIs(err, ErrRunNotFound)
}

func TestHistory_InMemory(t *testing.T) {
	suite.Run(t, &HistoryTestSuite{newStores: func(*testing.T) (RunStore, EventStore) {
		store := NewInMemoryRunStore()
		return store, store
	}})
}

func TestHistory_SQLite(t *testing.T) {
	suite.Run(t, &HistoryTestSuite{newStores: func(t *testing.T) (RunStore, EventStore) {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		runs, err := NewSQLiteRunStore(db)
		require.NoError(t, err)
		events, err := NewSQLiteEventStore(db)
		require.NoError(t, err)
		return runs, events
	}})
}

func TestHistory_Redis(t *testing.T) {
	suite.Run(t, &HistoryTestSuite{newStores: func(t *testing.T) (RunStore, EventStore) {
		return NewRedisRunStore(testutil.NewRedisClient(t), "conduit:history:"), nil
	}})
}

func TestHistory_Postgres(t *testing.T) {
	dsn := testutil.GetPostgresEndpoint(t)

	suite.Run(t, &HistoryTestSuite{newStores: func(t *testing.T) (RunStore, EventStore) {
		db, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.Exec(`DROP TABLE IF EXISTS pipeline_runs`)
		require.NoError(t, err)

		runs, err := NewPostgresRunStore(db)
		require.NoError(t, err)
		return runs, nil
	}})
}

func TestHistory_Mongo(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	suite.Run(t, &HistoryTestSuite{newStores: func(t *testing.T) (RunStore, EventStore) {
		ctx := context.Background()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

		require.NoError(t, client.Database("conduit_history").Drop(ctx))

		store := NewMongoStore(client, "conduit_history")
		return store, store
	}})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
log_level: debug
telemetry_prefix: [shop, checkout]
default_timeout: 20ms
`))
	require.NoError(t, err)

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)

	obs := &testutil.RecordingObserver{}
	p := New(nil, append(opts, WithObserver(obs))...).Step("slow", sleepStep(5*time.Second))
	require.Equal(t, []string{"shop", "checkout"}, p.TelemetryPrefix())

	_, err = p.RunWithTimeout(context.Background(), 0)
	require.ErrorIs(t, err, api.ErrTimeout)
}

func TestOptionsFromConfig_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	_, err := OptionsFromConfig(cfg)
	require.Error(t, err)
}
