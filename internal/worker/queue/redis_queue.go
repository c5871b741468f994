package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of *redis.Client the queue uses.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisQueue pushes with LPUSH and pops with BRPOP, giving FIFO order.
type RedisQueue struct {
	rdb          RedisClient
	queueName    string
	resultQueue  string
	blockTimeout time.Duration
}

func NewRedisQueue(rdb RedisClient, queueName, resultQueue string) *RedisQueue {
	return &RedisQueue{
		rdb:          rdb,
		queueName:    queueName,
		resultQueue:  resultQueue,
		blockTimeout: 5 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.queueName, body).Err()
}

// Receive blocks on BRPOP for up to the block timeout.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	res, err := q.rdb.BRPop(ctx, q.blockTimeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return decode(res[1]), nil
}

func (q *RedisQueue) Publish(ctx context.Context, res Result) error {
	if q.resultQueue == "" {
		return nil
	}
	body, err := encode(res)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.resultQueue, body).Err()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
