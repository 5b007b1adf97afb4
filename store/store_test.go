package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/backtest"
)

func exerciseTaskStore(t *testing.T, s TaskStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		task := &Task{
			ID:        uuid.New().String(),
			Kind:      KindSingle,
			Status:    StatusPending,
			Symbol:    "600000",
			Request:   json.RawMessage(`{"symbol":"600000"}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Save(ctx, task))
		ids = append(ids, task.ID)
	}

	got, err := s.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.JSONEq(t, `{"symbol":"600000"}`, string(got.Request))

	got.Status = StatusCompleted
	got.Result = json.RawMessage(`{"metrics":{}}`)
	require.NoError(t, s.Save(ctx, got))
	again, err := s.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	require.NoError(t, s.Delete(ctx, ids[0]))
	_, err = s.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, s.Delete(ctx, ids[0]), ErrTaskNotFound)

	list, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryTaskStore(t *testing.T) {
	exerciseTaskStore(t, NewMemoryTaskStore())
}

func TestMemoryTaskStoreCopies(t *testing.T) {
	s := NewMemoryTaskStore()
	task := &Task{ID: "a", Status: StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Save(context.Background(), task))
	task.Status = StatusFailed

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRedisTaskStore(t *testing.T) {
	addr := os.Getenv("QUANT_TEST_REDIS")
	if addr == "" {
		t.Skip("QUANT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	prefix := "quant:test:" + uuid.New().String() + ":"
	exerciseTaskStore(t, NewRedisTaskStore(client, prefix, time.Minute))
}

func TestRedisTaskStoreListSkipsExpired(t *testing.T) {
	addr := os.Getenv("QUANT_TEST_REDIS")
	if addr == "" {
		t.Skip("QUANT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	s := NewRedisTaskStore(client, "quant:test:"+uuid.New().String()+":", time.Minute)

	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		task := &Task{ID: uuid.New().String(), Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.Save(ctx, task))
		ids = append(ids, task.ID)
	}
	// Expire the two newest task keys while their index entries remain.
	require.NoError(t, client.Del(ctx, s.key(ids[3]), s.key(ids[2])).Err())

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[0], list[1].ID)

	n, err := client.ZCard(ctx, s.index).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteResultStore(t *testing.T) {
	s, err := NewSQLiteResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2"} {
		require.NoError(t, s.Put(ctx, ResultRecord{
			TaskID:    id,
			Kind:      KindSingle,
			Symbol:    "600000",
			Strategy:  "sma_cross(5,20)",
			Metrics:   backtest.Metrics{TotalReturn: 0.1 * float64(i+1), TotalTrades: i},
			Payload:   json.RawMessage(`{"ok":true}`),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "t2", recs[0].TaskID)
	assert.InDelta(t, 0.2, recs[0].Metrics.TotalReturn, 1e-12)
	assert.Equal(t, KindSingle, recs[0].Kind)

	payload, err := s.Payload(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	_, err = s.Payload(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
