// Package queue implements the Redis-backed run queue that gives run
// execution its at-least-once guarantee: a dequeued run holds a visibility
// lease, and a crashed worker's lease expiry puts the run back on the ready
// list for redelivery.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "runs:ready"
	inflightKey = "runs:inflight"
	retryKey    = "runs:retry"
)

// RunQueue coordinates ready, in-flight, and retry-scheduled runs in Redis.
type RunQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// New builds a run queue on an existing Redis client.
func New(client *redis.Client, visibility time.Duration) *RunQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RunQueue{client: client, visibilityTTL: visibility}
}

// Enqueue appends a run to the ready list.
func (q *RunQueue) Enqueue(ctx context.Context, runID string) error {
	return q.client.RPush(ctx, readyKey, runID).Err()
}

// DequeueWithLease pops the next ready run and places it in-flight with a
// visibility deadline. Returns "" when the queue is empty.
func (q *RunQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	runID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return runID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight run.
// Long runs heartbeat through this while they execute.
func (q *RunQueue) ExtendLease(ctx context.Context, runID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: runID,
	}).Err()
}

// Ack removes a finished run from in-flight tracking.
func (q *RunQueue) Ack(ctx context.Context, runID string) error {
	return q.client.ZRem(ctx, inflightKey, runID).Err()
}

// ScheduleRetry releases the lease and parks the run until the given time.
func (q *RunQueue) ScheduleRetry(ctx context.Context, runID string, at time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, runID)
	pipe.ZAdd(ctx, retryKey, redis.Z{Score: float64(at.UnixMilli()), Member: runID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDue moves retry-scheduled runs whose time has come back to the
// ready list. It returns how many were promoted.
func (q *RunQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, retryKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing those runs.
func (q *RunQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the ready-list length.
func (q *RunQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local run = redis.call('LPOP', KEYS[1])
if run then
  redis.call('ZADD', KEYS[2], ARGV[1], run)
  return run
end
return nil
`)
