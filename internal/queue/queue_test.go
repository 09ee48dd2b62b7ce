package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/viboost/comment-engine-go/internal/errors"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	// This test requires a running Redis instance on DB 15.
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })
	client.FlushDB(context.Background())
	return client
}

type testPayload struct {
	Value string `json:"value"`
}

func TestEnqueueDedup(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "test", testPayload{Value: "a"}, EnqueueOptions{JobID: "interval-1"})
	require.NoError(t, err)
	assert.Equal(t, "interval-1", id)

	_, err = q.Enqueue(ctx, "test", testPayload{Value: "b"}, EnqueueOptions{JobID: "interval-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob))

	counts, err := q.QueueCounts(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Wait)
}

func TestDelayedPromotion(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "test", testPayload{Value: "later"}, EnqueueOptions{
		JobID: "delayed-1",
		Delay: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	counts, _ := q.QueueCounts(ctx, "test")
	assert.Equal(t, int64(1), counts.Delayed)
	assert.Equal(t, int64(0), counts.Wait)

	// Not yet due.
	n, err := q.Promote(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	time.Sleep(250 * time.Millisecond)

	n, err = q.Promote(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, _ = q.QueueCounts(ctx, "test")
	assert.Equal(t, int64(1), counts.Wait)
}

func TestWorkerProcessesJob(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	var got atomic.Value
	worker := NewWorker(q, "test", func(ctx context.Context, job *Job) error {
		var p testPayload
		require.NoError(t, json.Unmarshal(job.Payload, &p))
		got.Store(p.Value)
		return nil
	}, WorkerOptions{Concurrency: 2})

	worker.Start(ctx)
	defer worker.Stop()

	_, err := q.Enqueue(ctx, "test", testPayload{Value: "hello"}, EnqueueOptions{
		JobID:            "job-1",
		RemoveOnComplete: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := got.Load().(string)
		return v == "hello"
	}, 5*time.Second, 50*time.Millisecond)

	// Completed job releases its id for re-enqueue.
	require.Eventually(t, func() bool {
		live, err := q.HasLiveJob(ctx, "test", "job-1")
		return err == nil && !live
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	var attempts atomic.Int64
	worker := NewWorker(q, "test", func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return assert.AnError
	}, WorkerOptions{Concurrency: 1, Backoff: 50 * time.Millisecond})

	worker.Start(ctx)
	defer worker.Stop()

	_, err := q.Enqueue(ctx, "test", testPayload{Value: "doomed"}, EnqueueOptions{
		JobID:       "doomed-1",
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts, err := q.QueueCounts(ctx, "test")
		return err == nil && counts.Dead == 1
	}, 10*time.Second, 100*time.Millisecond)

	assert.Equal(t, int64(3), attempts.Load())

	drained, err := q.DrainDead(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), drained)
}

func TestRemoveDelayedJob(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "test", testPayload{}, EnqueueOptions{
		JobID: "to-remove",
		Delay: time.Hour,
	})
	require.NoError(t, err)

	ids, err := q.DelayedJobIDs(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"to-remove"}, ids)

	require.NoError(t, q.Remove(ctx, "test", "to-remove"))

	ids, err = q.DelayedJobIDs(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, ids)

	live, err := q.HasLiveJob(ctx, "test", "to-remove")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestReclaimStalled(t *testing.T) {
	client := testClient(t)
	q := New(client)
	ctx := context.Background()

	// Simulate a crashed worker: job in active with an expired lease.
	_, err := q.Enqueue(ctx, "test", testPayload{}, EnqueueOptions{JobID: "stalled-1", MaxAttempts: 3})
	require.NoError(t, err)
	require.NoError(t, client.LRem(ctx, waitKey("test"), 0, "stalled-1").Err())
	require.NoError(t, client.LPush(ctx, activeKey("test"), "stalled-1").Err())
	require.NoError(t, client.ZAdd(ctx, leasesKey("test"), redis.Z{
		Score:  float64(time.Now().Add(-time.Minute).UnixMilli()),
		Member: "stalled-1",
	}).Err())

	n, err := q.Reclaim(ctx, "test", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, _ := q.QueueCounts(ctx, "test")
	assert.Equal(t, int64(1), counts.Wait)
	assert.Equal(t, int64(0), counts.Active)
}
