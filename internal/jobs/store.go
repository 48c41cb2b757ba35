package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/sunoproxy/internal/apperr"
	"github.com/makeasinger/sunoproxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxUpdateRetries bounds optimistic-lock retries on concurrent writers.
const maxUpdateRetries = 10

// Store persists run records.
type Store interface {
	// Create stores job unless a record with the same id exists.
	Create(ctx context.Context, job *model.Job) (bool, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update applies fn to the current record atomically.
	Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps run records as JSON strings under job:{id}.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore creates a store whose records expire after ttl.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func (s *RedisStore) Create(ctx context.Context, job *model.Job) (bool, error) {
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Attempts == nil {
		job.Attempts = []model.Attempt{}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	return s.rdb.SetNX(ctx, s.key(job.ID), data, s.ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound(fmt.Sprintf("run %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := s.key(id)
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound(fmt.Sprintf("run %s not found", id))
		}
		if err != nil {
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = s.now().UTC()

		out, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("run %s is being updated concurrently", id))
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}
