package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/conduit/internal/testutil"
	"github.com/petrijr/conduit/pkg/api"
)

const mongoTestDB = "conduit_test"

type MongoStoreTestSuite struct {
	suite.Suite
	client *mongo.Client
	store  *MongoStore
	ctx    context.Context
}

func TestMongoStoreTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	testsuite := new(MongoStoreTestSuite)
	testsuite.client = client
	testsuite.store = NewMongoStore(client, mongoTestDB)
	testsuite.ctx = context.Background()
	suite.Run(t, testsuite)
}

func (m *MongoStoreTestSuite) SetupTest() {
	err := m.client.Database(mongoTestDB).Drop(m.ctx)
	m.Require().NoError(err, "dropping test database failed")
}

func (m *MongoStoreTestSuite) TestRunStoreContract() {
	testRunStoreContract(m.T(), m.store)
}

func (m *MongoStoreTestSuite) TestEventStoreContract() {
	testEventStoreContract(m.T(), m.store)
}

func (m *MongoStoreTestSuite) TestSaveReplacesWholeDocument() {
	rec := sampleRecord("run-replace", "checkout", api.StatusFailed, 0)
	rec.Error = "declined"
	m.Require().NoError(m.store.SaveRun(m.ctx, rec))

	rec.Status = api.StatusCompleted
	rec.Error = ""
	rec.Pending = nil
	m.Require().NoError(m.store.SaveRun(m.ctx, rec))

	got, err := m.store.GetRun(m.ctx, "run-replace")
	m.Require().NoError(err)
	m.Equal(api.StatusCompleted, got.Status)
	m.Empty(got.Error)
	m.Empty(got.Pending)

	count, err := m.client.Database(mongoTestDB).Collection("runs").CountDocuments(m.ctx, map[string]any{})
	m.Require().NoError(err)
	m.Equal(int64(1), count)
}

func (m *MongoStoreTestSuite) TestRecorderWritesThroughMongo() {
	rec := NewRecorder(m.store, m.store, nil)
	run := api.RunInfo{ID: "run-rec", Pipeline: "checkout"}

	rec.OnPipelineStart(m.ctx, run)
	rec.OnStepStart(m.ctx, run, "charge", 0)
	rec.OnStepCompleted(m.ctx, run, "charge", 0, nil, time.Millisecond)
	rec.OnPipelineCompleted(m.ctx, api.RunSummary{
		RunInfo:    run,
		Status:     api.StatusCompleted,
		Completed:  []string{"charge"},
		Context:    api.NewContext("paid", true),
		StartedAt:  baseTime,
		FinishedAt: baseTime.Add(time.Second),
	})

	got, err := m.store.GetRun(m.ctx, "run-rec")
	m.Require().NoError(err)
	m.Equal(api.StatusCompleted, got.Status)
	m.Equal([]string{"charge"}, got.Completed)

	evs, err := m.store.ListEvents(m.ctx, "run-rec")
	m.Require().NoError(err)
	m.Require().Len(evs, 4)
	m.Equal(api.EventPipelineStarted, evs[0].Type)
	m.Equal(api.EventPipelineCompleted, evs[3].Type)
}
