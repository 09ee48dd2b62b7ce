package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/viboost/comment-engine-go/internal/errors"
)

// Queue is a durable job queue on Redis: delayed jobs in a ZSET keyed by
// fire time, ready jobs in a LIST, in-flight jobs tracked by a lease ZSET.
// Delivery is at-least-once; handlers guard their effects with locks.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Job is one unit of work pulled off a queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Stalls      int             `json:"stalls"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// EnqueueOptions mirrors the substrate contract: an optional delay, an
// explicit id for dedup, a retry ceiling, and completion retention.
type EnqueueOptions struct {
	Delay            time.Duration
	JobID            string
	MaxAttempts      int
	RemoveOnComplete bool
	RemoveOnFail     bool
}

func waitKey(name string) string    { return fmt.Sprintf("queue:%s:wait", name) }
func activeKey(name string) string  { return fmt.Sprintf("queue:%s:active", name) }
func delayedKey(name string) string { return fmt.Sprintf("queue:%s:delayed", name) }
func leasesKey(name string) string  { return fmt.Sprintf("queue:%s:leases", name) }
func deadKey(name string) string    { return fmt.Sprintf("queue:%s:dead", name) }
func jobKey(name, id string) string { return fmt.Sprintf("queue:%s:job:%s", name, id) }

// enqueueScript refuses ids whose job hash still exists (dedup), then parks
// the job either in the delayed ZSET or the wait LIST.
var enqueueScript = redis.NewScript(`
local jobKey = KEYS[1]
local waitKey = KEYS[2]
local delayedKey = KEYS[3]
local id = ARGV[1]
local payload = ARGV[2]
local maxAttempts = ARGV[3]
local removeOnComplete = ARGV[4]
local removeOnFail = ARGV[5]
local enqueuedAt = ARGV[6]
local fireAt = tonumber(ARGV[7])
local now = tonumber(ARGV[8])

if redis.call('EXISTS', jobKey) == 1 then
    return 0
end

redis.call('HSET', jobKey,
    'payload', payload,
    'attempts', 0,
    'maxAttempts', maxAttempts,
    'stalls', 0,
    'removeOnComplete', removeOnComplete,
    'removeOnFail', removeOnFail,
    'enqueuedAt', enqueuedAt)

if fireAt > now then
    redis.call('ZADD', delayedKey, fireAt, id)
else
    redis.call('LPUSH', waitKey, id)
end
return 1
`)

// Enqueue adds a job. A live job with the same id makes this a no-op and
// returns ErrCodeDuplicateJob.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	now := time.Now()
	fireAt := now.Add(opts.Delay)

	added, err := enqueueScript.Run(ctx, q.client,
		[]string{jobKey(name, id), waitKey(name), delayedKey(name)},
		id,
		string(data),
		maxAttempts,
		boolArg(opts.RemoveOnComplete),
		boolArg(opts.RemoveOnFail),
		now.UnixMilli(),
		fireAt.UnixMilli(),
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	if added == 0 {
		return id, apperrors.DuplicateJob(id)
	}
	return id, nil
}

// promoteScript moves due delayed jobs into the wait list, oldest first.
var promoteScript = redis.NewScript(`
local delayedKey = KEYS[1]
local waitKey = KEYS[2]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now, 'LIMIT', 0, limit)
for _, id in ipairs(due) do
    redis.call('ZREM', delayedKey, id)
    redis.call('LPUSH', waitKey, id)
end
return #due
`)

// Promote moves jobs whose fire time has passed onto the wait list.
func (q *Queue) Promote(ctx context.Context, name string) (int64, error) {
	return promoteScript.Run(ctx, q.client,
		[]string{delayedKey(name), waitKey(name)},
		time.Now().UnixMilli(), 128,
	).Int64()
}

// reclaimScript re-queues jobs whose lease expired (worker crash). A job
// seen stalled too often is dead-lettered instead of looping forever.
var reclaimScript = redis.NewScript(`
local leasesKey = KEYS[1]
local activeKey = KEYS[2]
local waitKey = KEYS[3]
local deadKey = KEYS[4]
local jobPrefix = ARGV[1]
local now = tonumber(ARGV[2])
local maxStalls = tonumber(ARGV[3])

local expired = redis.call('ZRANGEBYSCORE', leasesKey, '-inf', now, 'LIMIT', 0, 64)
local reclaimed = 0
for _, id in ipairs(expired) do
    redis.call('ZREM', leasesKey, id)
    redis.call('LREM', activeKey, 0, id)
    local jobKey = jobPrefix .. id
    if redis.call('EXISTS', jobKey) == 1 then
        local stalls = redis.call('HINCRBY', jobKey, 'stalls', 1)
        if stalls > maxStalls then
            redis.call('LPUSH', deadKey, id)
        else
            redis.call('LPUSH', waitKey, id)
            reclaimed = reclaimed + 1
        end
    end
end
return reclaimed
`)

// Reclaim returns stalled jobs to the wait list.
func (q *Queue) Reclaim(ctx context.Context, name string, maxStalls int) (int64, error) {
	return reclaimScript.Run(ctx, q.client,
		[]string{leasesKey(name), activeKey(name), waitKey(name), deadKey(name)},
		jobKey(name, ""),
		time.Now().UnixMilli(),
		maxStalls,
	).Int64()
}

// Remove deletes a job wherever it currently sits. Used when a schedule is
// paused or deleted and its outstanding delayed job must go away.
func (q *Queue) Remove(ctx context.Context, name, id string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, jobKey(name, id))
	pipe.LRem(ctx, waitKey(name), 0, id)
	pipe.LRem(ctx, activeKey(name), 0, id)
	pipe.ZRem(ctx, delayedKey(name), id)
	pipe.ZRem(ctx, leasesKey(name), id)
	_, err := pipe.Exec(ctx)
	return err
}

// DelayedJobIDs lists ids parked in the delayed set, for reconciliation.
func (q *Queue) DelayedJobIDs(ctx context.Context, name string) ([]string, error) {
	return q.client.ZRange(ctx, delayedKey(name), 0, -1).Result()
}

// HasLiveJob reports whether a job id still has a live hash (waiting,
// delayed or in flight).
func (q *Queue) HasLiveJob(ctx context.Context, name, id string) (bool, error) {
	n, err := q.client.Exists(ctx, jobKey(name, id)).Result()
	return n == 1, err
}

// Counts reports queue depth per state.
type Counts struct {
	Wait    int64 `json:"wait"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

func (q *Queue) QueueCounts(ctx context.Context, name string) (Counts, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, waitKey(name))
	active := pipe.LLen(ctx, activeKey(name))
	delayed := pipe.ZCard(ctx, delayedKey(name))
	dead := pipe.LLen(ctx, deadKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Wait:    wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}, nil
}

// DrainDead clears the dead-letter list and the hashes it points at.
func (q *Queue) DrainDead(ctx context.Context, name string) (int64, error) {
	var drained int64
	for {
		id, err := q.client.RPop(ctx, deadKey(name)).Result()
		if err == redis.Nil {
			return drained, nil
		}
		if err != nil {
			return drained, err
		}
		if err := q.client.Del(ctx, jobKey(name, id)).Err(); err != nil {
			return drained, err
		}
		drained++
	}
}

func (q *Queue) loadJob(ctx context.Context, name, id string) (*Job, bool, bool, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(name, id)).Result()
	if err != nil {
		return nil, false, false, err
	}
	if len(fields) == 0 {
		return nil, false, false, nil
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["maxAttempts"])
	stalls, _ := strconv.Atoi(fields["stalls"])
	enqueuedMs, _ := strconv.ParseInt(fields["enqueuedAt"], 10, 64)

	job := &Job{
		ID:          id,
		Queue:       name,
		Payload:     json.RawMessage(fields["payload"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Stalls:      stalls,
		EnqueuedAt:  time.UnixMilli(enqueuedMs),
	}
	return job, fields["removeOnComplete"] == "1", fields["removeOnFail"] == "1", nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
