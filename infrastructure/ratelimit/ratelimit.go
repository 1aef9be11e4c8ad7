// Package ratelimit gates admission: per-tenant throughput counters against
// Redis with a rolling window, plus a local limiter for outbound provider
// calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Window is the rolling interval all requests within the same minute share.
const Window = time.Minute

// Throughput counts requests per tenant against a shared Redis hash. All
// callers within the same window increment the same counter.
type Throughput struct {
	client *redis.Client
	key    string
}

// NewThroughput binds the counter to its Redis hash key prefix.
func NewThroughput(client *redis.Client, key string) *Throughput {
	return &Throughput{client: client, key: key}
}

func (t *Throughput) windowKey(now time.Time) string {
	return fmt.Sprintf("%s:%d", t.key, now.Unix()/int64(Window.Seconds()))
}

// Increment bumps the tenant's counter and returns the new count. The
// window's hash expires two windows later so stale counters vanish on their
// own.
func (t *Throughput) Increment(ctx context.Context, tenantKey string) (uint64, error) {
	key := t.windowKey(time.Now())

	count, err := t.client.HIncrBy(ctx, key, tenantKey, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment throughput: %w", err)
	}
	if count == 1 {
		_ = t.client.Expire(ctx, key, 2*Window).Err()
	}
	return uint64(count), nil
}

// Admit increments and applies the limit: true while count stays within
// budget.
func (t *Throughput) Admit(ctx context.Context, tenantKey string, limit uint64) (bool, error) {
	count, err := t.Increment(ctx, tenantKey)
	if err != nil {
		return false, err
	}
	return count <= limit, nil
}

// Reset clears the current window's counters; test helper.
func (t *Throughput) Reset(ctx context.Context) error {
	return t.client.Del(ctx, t.windowKey(time.Now())).Err()
}

// RateLimitedClient wraps an HTTP client with a local token bucket so one
// tenant's dispatch burst cannot saturate a provider.
type RateLimitedClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRateLimitedClient builds a limited client; rps <= 0 disables limiting.
func NewRateLimitedClient(client *http.Client, rps float64, burst int) *RateLimitedClient {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = int(rps * 2)
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedClient{client: client, limiter: limiter}
}

// Do waits for a token, then performs the request.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.client.Do(req)
}
