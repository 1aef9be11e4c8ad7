package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newThroughput(t *testing.T) (*Throughput, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewThroughput(client, "event-throughput"), server
}

func TestIncrementCounts(t *testing.T) {
	throughput, _ := newThroughput(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		count, err := throughput.Increment(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("Increment error = %v", err)
		}
		if count != want {
			t.Errorf("Increment = %d, want %d", count, want)
		}
	}

	// Another tenant has an independent counter.
	count, err := throughput.Increment(ctx, "tenant-2")
	if err != nil {
		t.Fatalf("Increment error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment(tenant-2) = %d, want 1", count)
	}
}

func TestAdmitLimitBoundary(t *testing.T) {
	throughput, _ := newThroughput(t)
	ctx := context.Background()
	const limit = 3

	// Exactly limit requests are admitted; the (limit+1)-th is rejected.
	for i := 0; i < limit; i++ {
		ok, err := throughput.Admit(ctx, "tenant-1", limit)
		if err != nil {
			t.Fatalf("Admit error = %v", err)
		}
		if !ok {
			t.Errorf("request %d rejected, want admitted", i+1)
		}
	}
	ok, err := throughput.Admit(ctx, "tenant-1", limit)
	if err != nil {
		t.Fatalf("Admit error = %v", err)
	}
	if ok {
		t.Error("request over limit admitted")
	}
}

func TestCounterResetsAfterWindow(t *testing.T) {
	throughput, server := newThroughput(t)
	ctx := context.Background()

	if _, err := throughput.Admit(ctx, "tenant-1", 1); err != nil {
		t.Fatalf("Admit error = %v", err)
	}
	if ok, _ := throughput.Admit(ctx, "tenant-1", 1); ok {
		t.Fatal("second request within window admitted")
	}

	// The window hash carries an expiry so stale counters vanish on their
	// own once the window rolls.
	key := throughput.windowKey(time.Now())
	if ttl := server.TTL(key); ttl <= 0 || ttl > 2*Window {
		t.Errorf("window key TTL = %v, want (0, %v]", ttl, 2*Window)
	}
	server.FastForward(2*Window + time.Second)
	if server.Exists(key) {
		t.Error("window key survived its expiry")
	}
}
