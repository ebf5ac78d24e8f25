// Package queue provides a narrow accessor onto the external task queue. The
// orchestrator never consumes tasks; it only observes backlog depth.
package queue

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// DepthReader reports the pending-task backlog of a named queue.
type DepthReader interface {
	GetQueueDepth(ctx context.Context, queueName string) (int, error)
}

// RedisReader reads queue depth from a Redis list.
type RedisReader struct {
	client *redis.Client
}

func NewRedisReader(addr string) *RedisReader {
	return &RedisReader{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisReaderFromClient wraps an existing client; used in tests.
func NewRedisReaderFromClient(c *redis.Client) *RedisReader {
	return &RedisReader{client: c}
}

func (r *RedisReader) GetQueueDepth(ctx context.Context, queueName string) (int, error) {
	n, err := r.client.LLen(ctx, queueName).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *RedisReader) Close() error { return r.client.Close() }
