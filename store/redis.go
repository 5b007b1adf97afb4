package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ TaskStore = (*RedisTaskStore)(nil)

// RedisTaskStore stores each task as JSON under prefix+id and indexes ids
// in a sorted set scored by creation time.
type RedisTaskStore struct {
	client redis.UniversalClient
	prefix string
	index  string
	ttl    time.Duration
}

func NewRedisTaskStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTaskStore {
	if prefix == "" {
		prefix = "quant:backtest:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTaskStore{
		client: client,
		prefix: prefix + "task:",
		index:  prefix + "tasks",
		ttl:    ttl,
	}
}

func (r *RedisTaskStore) key(id string) string {
	return fmt.Sprintf("%s%s", r.prefix, id)
}

func (r *RedisTaskStore) Save(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(t.ID), data, r.ttl)
	pipe.ZAdd(ctx, r.index, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task to redis: %w", err)
	}
	return nil
}

func (r *RedisTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

// List returns up to limit live tasks, newest first. Index entries whose
// task key has expired are dropped and the scan continues past them, so a
// full page is returned while enough live tasks remain.
func (r *RedisTaskStore) List(ctx context.Context, limit int) ([]*Task, error) {
	batch := int64(limit)
	if limit <= 0 {
		batch = 100
	}
	var (
		out   []*Task
		stale []any
		start int64
	)
	for limit <= 0 || len(out) < limit {
		ids, err := r.client.ZRevRange(ctx, r.index, start, start+batch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}
		for _, id := range ids {
			if limit > 0 && len(out) == limit {
				break
			}
			t, err := r.Get(ctx, id)
			if errors.Is(err, ErrTaskNotFound) {
				stale = append(stale, id)
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		if int64(len(ids)) < batch {
			break
		}
		start += batch
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, r.index, stale...).Err()
	}
	if out == nil {
		out = []*Task{}
	}
	return out, nil
}

func (r *RedisTaskStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return err
	}
	_ = r.client.ZRem(ctx, r.index, id).Err()
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}
