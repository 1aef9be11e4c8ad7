package eventcore

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/shared"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

func newTestHandler(t *testing.T, store *mockStorage) (*EventHandler, *queue.RedisQueue) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewWithClient(client, "events")
	return &EventHandler{
		Queue:      q,
		Throughput: ratelimit.NewThroughput(client, "event-throughput"),
		Control:    store,
		Contexts:   store,
		Log:        logger.New("test", logger.Config{Level: "error"}),
	}, q
}

func TestThrottledEventDeferredWithCountedKey(t *testing.T) {
	store := newMockStorage()
	store.connection.Throughput = shared.Throughput{Key: "build-1", Limit: 1}
	handler, q := newTestHandler(t, store)
	ctx := context.Background()

	first := contexts.NewEventWithContext(seedEvent(store))
	second := contexts.NewEventWithContext(seedEvent(store))

	// The first event is admitted; the second exceeds limit 1.
	admitted, err := handler.BelowThroughputLimit(ctx, first)
	if err != nil || !admitted {
		t.Fatalf("first admission = %v, %v", admitted, err)
	}
	admitted, err = handler.BelowThroughputLimit(ctx, second)
	if err != nil {
		t.Fatalf("second admission error = %v", err)
	}
	if admitted {
		t.Fatal("second event admitted over limit 1")
	}

	if err := handler.DeferEvent(ctx, second); err != nil {
		t.Fatalf("DeferEvent error = %v", err)
	}

	// The deferred event re-enters at the next pop with a counted tx key
	// and a throttled transaction recorded.
	popped, err := q.Pop(ctx, 0)
	if err != nil || popped == nil {
		t.Fatalf("Pop = %+v, %v", popped, err)
	}
	wantKey := second.Event.Key.String() + "::throttled-1"
	if popped.Context.Transaction == nil || popped.Context.Transaction.TxKey != wantKey {
		t.Fatalf("deferred tx key = %+v, want %q", popped.Context.Transaction, wantKey)
	}
	if len(store.txs) != 1 || store.txs[0].State != contexts.TxThrottled {
		t.Errorf("transactions = %+v, want one throttled", store.txs)
	}

	// Still over limit on the next tick within the same window: the suffix
	// counts up.
	admitted, err = handler.BelowThroughputLimit(ctx, *popped)
	if err != nil {
		t.Fatalf("third admission error = %v", err)
	}
	if admitted {
		t.Fatal("deferred event admitted while window is saturated")
	}
	if err := handler.DeferEvent(ctx, *popped); err != nil {
		t.Fatalf("DeferEvent error = %v", err)
	}
	popped, err = q.Pop(ctx, 0)
	if err != nil || popped == nil {
		t.Fatalf("Pop = %+v, %v", popped, err)
	}
	if !strings.HasSuffix(popped.Context.Transaction.TxKey, "::throttled-2") {
		t.Errorf("tx key = %q, want ::throttled-2 suffix", popped.Context.Transaction.TxKey)
	}
}

func TestPopEventReturnsQueued(t *testing.T) {
	store := newMockStorage()
	handler, q := newTestHandler(t, store)
	ctx := context.Background()

	sent := contexts.NewEventWithContext(seedEvent(store))
	if err := q.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	popped, err := handler.PopEvent(ctx)
	if err != nil {
		t.Fatalf("PopEvent error = %v", err)
	}
	if popped.Event.ID != sent.Event.ID {
		t.Errorf("popped = %v, want %v", popped.Event.ID, sent.Event.ID)
	}
}
