package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	q, err := NewRedisQueue[testItem](client, DefaultConfig("usage"))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testItem{ID: 1, Voice: "puck"}))
	require.NoError(t, q.Enqueue(ctx, testItem{ID: 2, Voice: "kore"}))
	assert.True(t, mr.Exists("queue:usage"))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, testItem{ID: 1, Voice: "puck"}, items[0])
	assert.Equal(t, testItem{ID: 2, Voice: "kore"}, items[1])

	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisQueue_RequiresClient(t *testing.T) {
	_, err := NewRedisQueue[testItem](nil, DefaultConfig("usage"))
	assert.Error(t, err)
}

func TestRedisDeadLetterQueue(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	dlq, err := NewRedisDeadLetterQueue[testItem](client, DefaultConfig("usage"))
	require.NoError(t, err)

	require.NoError(t, dlq.Add(ctx, testItem{ID: 7}, errors.New("db down")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 7, items[0].Item.ID)
	assert.Equal(t, "db down", items[0].Error)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)
}
