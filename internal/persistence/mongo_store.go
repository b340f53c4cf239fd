package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/conduit/pkg/api"
)

// MongoStore keeps run records and run events in two MongoDB collections.
type MongoStore struct {
	runs   *mongo.Collection
	events *mongo.Collection
}

// Ensure MongoStore implements the interfaces.
var (
	_ RunStore   = (*MongoStore)(nil)
	_ EventStore = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed run and event store.
// dbName defaults to "conduit". Records go to the "runs" collection and
// events to "run_events".
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "conduit"
	}
	db := client.Database(dbName)
	return &MongoStore{
		runs:   db.Collection("runs"),
		events: db.Collection("run_events"),
	}
}

type mongoRunDoc struct {
	ID         string   `bson:"_id"`
	Pipeline   string   `bson:"pipeline"`
	Status     string   `bson:"status"`
	Completed  []string `bson:"completed"`
	Pending    []string `bson:"pending"`
	Error      string   `bson:"error,omitempty"`
	Context    []byte   `bson:"context,omitempty"`
	StartedAt  int64    `bson:"started_at"`
	FinishedAt int64    `bson:"finished_at"`
}

func (d mongoRunDoc) record() RunRecord {
	return RunRecord{
		ID:         d.ID,
		Pipeline:   d.Pipeline,
		Status:     api.Status(d.Status),
		Completed:  d.Completed,
		Pending:    d.Pending,
		Error:      d.Error,
		Context:    d.Context,
		StartedAt:  fromUnixNano(d.StartedAt),
		FinishedAt: fromUnixNano(d.FinishedAt),
	}
}

type mongoEventDoc struct {
	RunID    string `bson:"run_id"`
	At       int64  `bson:"at"`
	Type     string `bson:"type"`
	Pipeline string `bson:"pipeline,omitempty"`
	Step     string `bson:"step,omitempty"`
	Detail   string `bson:"detail,omitempty"`
}

func (s *MongoStore) SaveRun(ctx context.Context, rec RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := mongoRunDoc{
		ID:         rec.ID,
		Pipeline:   rec.Pipeline,
		Status:     string(rec.Status),
		Completed:  rec.Completed,
		Pending:    rec.Pending,
		Error:      rec.Error,
		Context:    rec.Context,
		StartedAt:  unixNano(rec.StartedAt),
		FinishedAt: unixNano(rec.FinishedAt),
	}
	_, err := s.runs.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc mongoRunDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	return doc.record(), nil
}

func (s *MongoStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if filter.Pipeline != "" {
		bfilter["pipeline"] = filter.Pipeline
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.runs.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var runs []RunRecord
	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		runs = append(runs, doc.record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// AppendEvent stores ev. Events with the same timestamp keep append order
// through their client-generated ObjectIDs.
func (s *MongoStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	doc := mongoEventDoc{
		RunID:    ev.RunID,
		At:       at.UnixNano(),
		Type:     string(ev.Type),
		Pipeline: ev.Pipeline,
		Step:     ev.Step,
		Detail:   ev.Detail,
	}
	_, err := s.events.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.events.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.RunEvent
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.RunEvent{
			RunID:    doc.RunID,
			At:       time.Unix(0, doc.At),
			Type:     api.EventType(doc.Type),
			Pipeline: doc.Pipeline,
			Step:     doc.Step,
			Detail:   doc.Detail,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
