package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "events")
}

func testEvent(t *testing.T, name string) contexts.EventWithContext {
	t.Helper()
	evt := event.Event{
		ID:          id.Now(id.PrefixEvent),
		Key:         id.Now(id.PrefixEventKey),
		Name:        name,
		Environment: shared.EnvTest,
		Ownership:   shared.NewOwnership("tenant-1"),
	}
	return contexts.NewEventWithContext(evt)
}

func TestPublishPopFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := testEvent(t, "first")
	second := testEvent(t, "second")
	if err := q.Publish(ctx, first); err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	if err := q.Publish(ctx, second); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("Depth = %d, %v", depth, err)
	}

	popped, err := q.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop error = %v", err)
	}
	if popped == nil || popped.Event.Name != "first" {
		t.Errorf("Pop = %+v, want first", popped)
	}

	popped, err = q.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop error = %v", err)
	}
	if popped == nil || popped.Event.Name != "second" {
		t.Errorf("Pop = %+v, want second", popped)
	}
}

func TestPopEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	popped, err := q.Pop(context.Background(), 0)
	if err != nil {
		t.Fatalf("Pop error = %v", err)
	}
	if popped != nil {
		t.Errorf("Pop = %+v, want nil", popped)
	}
}

func TestDeferReentersFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Publish(ctx, testEvent(t, "queued")); err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	if err := q.Defer(ctx, testEvent(t, "deferred")); err != nil {
		t.Fatalf("Defer error = %v", err)
	}

	popped, err := q.Pop(ctx, 0)
	if err != nil {
		t.Fatalf("Pop error = %v", err)
	}
	if popped == nil || popped.Event.Name != "deferred" {
		t.Errorf("Pop = %+v, want deferred first", popped)
	}
}

func TestRoundTripPreservesContext(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	sent := testEvent(t, "ctx")
	if err := q.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	popped, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("Pop error = %v", err)
	}
	if popped == nil {
		t.Fatal("Pop = nil")
	}
	if popped.Context.EventKey != sent.Event.ID {
		t.Errorf("Context.EventKey = %v, want %v", popped.Context.EventKey, sent.Event.ID)
	}
	if popped.Context.Stage.Kind != contexts.RootStageNew {
		t.Errorf("Stage = %v, want New", popped.Context.Stage.Kind)
	}
}
