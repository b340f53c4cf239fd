package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/conduit/pkg/api"
)

// RedisRunStore is a RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>                => gob-encoded redisRunPayload
//	<prefix>idx:all                 => SET of all run IDs
//	<prefix>idx:pipeline:<name>     => SET of run IDs for a given pipeline
//	<prefix>idx:status:<status>     => SET of run IDs for a given status
//
// The indexes are best-effort. A run whose status changed may linger in
// the old status set, so ListRuns re-checks every payload against the
// filter.
type RedisRunStore struct {
	client *redis.Client
	prefix string
}

var _ RunStore = (*RedisRunStore)(nil)

type redisRunPayload struct {
	ID         string
	Pipeline   string
	Status     string
	Completed  []string
	Pending    []string
	Error      string
	Context    []byte
	StartedAt  int64
	FinishedAt int64
}

// NewRedisRunStore creates a RedisRunStore.
// prefix is optional but recommended (e.g. "conduit:").
func NewRedisRunStore(client *redis.Client, prefix string) *RedisRunStore {
	if prefix == "" {
		prefix = "conduit:"
	}
	return &RedisRunStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisRunStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisRunStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisRunStore) keyPipeline(name string) string {
	return s.prefix + "idx:pipeline:" + name
}

func (s *RedisRunStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisPayload(rec RunRecord) ([]byte, error) {
	payload := redisRunPayload{
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

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisPayload(data []byte) (RunRecord, error) {
	if len(data) == 0 {
		return RunRecord{}, ErrRunNotFound
	}
	var payload redisRunPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return RunRecord{}, err
	}

	return RunRecord{
		ID:         payload.ID,
		Pipeline:   payload.Pipeline,
		Status:     api.Status(payload.Status),
		Completed:  payload.Completed,
		Pending:    payload.Pending,
		Error:      payload.Error,
		Context:    payload.Context,
		StartedAt:  fromUnixNano(payload.StartedAt),
		FinishedAt: fromUnixNano(payload.FinishedAt),
	}, nil
}

func (s *RedisRunStore) SaveRun(ctx context.Context, rec RunRecord) error {
	data, err := encodeRedisPayload(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(rec.ID), data, 0)
	pipe.SAdd(ctx, s.keyAll(), rec.ID)
	pipe.SAdd(ctx, s.keyPipeline(rec.Pipeline), rec.ID)
	pipe.SAdd(ctx, s.keyStatus(rec.Status), rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	return decodeRedisPayload(data)
}

func (s *RedisRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	var (
		ids []string
		err error
	)

	switch {
	case filter.Pipeline != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyPipeline(filter.Pipeline),
			s.keyStatus(filter.Status),
		).Result()
	case filter.Pipeline != "":
		ids, err = s.client.SMembers(ctx, s.keyPipeline(filter.Pipeline)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []RunRecord{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []RunRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	runs := make([]RunRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRedisPayload(data)
		if err != nil {
			return nil, err
		}
		if filter.matches(rec) {
			runs = append(runs, rec)
		}
	}

	sortRuns(runs)
	return runs, nil
}

// Expire sets a TTL on a stored run so history does not grow without bound.
// Index entries of expired runs are skipped by ListRuns.
func (s *RedisRunStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, s.keyRun(id), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunNotFound
	}
	return nil
}
