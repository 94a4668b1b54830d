package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// RedisQueue pushes work items onto the Redis lists the workers consume.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Enqueue schedules a submission for grading.
func (q *RedisQueue) Enqueue(ctx context.Context, job model.GradingJob) error {
	return q.push(ctx, config.WorkerKey.GradingQueue, job)
}

// EnqueueAlert hands a classified alert to the alert worker.
func (q *RedisQueue) EnqueueAlert(ctx context.Context, alert model.CheatingAlert) error {
	return q.push(ctx, config.WorkerKey.PersistAlertsQueue, alert)
}

func (q *RedisQueue) push(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", key, err)
	}
	if err := q.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}
