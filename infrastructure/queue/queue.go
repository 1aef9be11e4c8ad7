// Package queue provides the Redis-backed event queue. Producers append to
// the tail; the dispatcher pops from the head, so the list is FIFO until a
// throttled event is deferred back onto the head.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/R3E-Network/integration_layer/domain/contexts"
)

// EventStream is the queue capability set: publish at the tail, consume from
// the head, defer back onto the head.
type EventStream interface {
	Publish(ctx context.Context, event contexts.EventWithContext) error
	Pop(ctx context.Context, timeout time.Duration) (*contexts.EventWithContext, error)
	Defer(ctx context.Context, event contexts.EventWithContext) error
	Depth(ctx context.Context) (int64, error)
}

// Config configures the Redis queue.
type Config struct {
	RedisURL  string
	QueueName string
}

// RedisQueue implements EventStream over a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*RedisQueue, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	key := cfg.QueueName
	if key == "" {
		key = "events"
	}
	return &RedisQueue{client: client, key: key}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{client: client, key: queueName}
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Publish appends an event to the tail of the queue.
func (q *RedisQueue) Publish(ctx context.Context, event contexts.EventWithContext) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event with context: %w", err)
	}
	return q.client.RPush(ctx, q.key, payload).Err()
}

// Pop blocks up to timeout for the next event; a zero timeout polls once.
// Returns nil without error when the queue stays empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*contexts.EventWithContext, error) {
	var payload string
	if timeout == 0 {
		result, err := q.client.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pop from queue: %w", err)
		}
		payload = result
	} else {
		result, err := q.client.BLPop(ctx, timeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pop from queue: %w", err)
		}
		if len(result) < 2 {
			return nil, nil
		}
		payload = result[1]
	}

	var event contexts.EventWithContext
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("unmarshal event with context: %w", err)
	}
	return &event, nil
}

// Defer pushes a throttled event onto the head so it re-enters at the next
// pop.
func (q *RedisQueue) Defer(ctx context.Context, event contexts.EventWithContext) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event with context: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Depth reports the number of queued events.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
