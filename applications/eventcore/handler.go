package eventcore

import (
	"context"
	"time"

	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/infrastructure/queue"
	"github.com/R3E-Network/integration_layer/infrastructure/ratelimit"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

// EventHandler owns the queue side of dispatch: popping events, throughput
// admission and deferral of over-limit events.
type EventHandler struct {
	Queue      queue.EventStream
	Throughput *ratelimit.Throughput
	Control    ControlDataStore
	Contexts   ContextStore
	Log        *logger.Logger
}

// PopEvent blocks until the next event arrives or the context is cancelled.
func (h *EventHandler) PopEvent(ctx context.Context) (*contexts.EventWithContext, error) {
	for {
		popped, err := h.Queue.Pop(ctx, time.Second)
		if err != nil {
			return nil, err
		}
		if popped != nil {
			return popped, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// BelowThroughputLimit increments the tenant's counter and reports whether
// the event is admitted.
func (h *EventHandler) BelowThroughputLimit(ctx context.Context, ewc contexts.EventWithContext) (bool, error) {
	conn, err := h.Control.FetchConnection(ctx, ewc.Event)
	if err != nil {
		return false, err
	}
	return h.Throughput.Admit(ctx, conn.Throughput.Key, conn.Throughput.Limit)
}

// DeferEvent records a throttled transaction and pushes the event back onto
// the head of the queue. The transaction key counts consecutive deferrals:
// "{event.key}::throttled-{n}".
func (h *EventHandler) DeferEvent(ctx context.Context, ewc contexts.EventWithContext) error {
	txKey := contexts.NextThrottleKey(&ewc.Event, ewc.Context.Transaction)
	tx := contexts.ThrottledTransaction(&ewc.Event, txKey)
	ewc.Context.Transaction = &tx

	if err := h.Control.RecordTransaction(ctx, tx); err != nil {
		h.Log.WithContext(ctx).WithError(err).Error("could not record throttled transaction")
	}
	if err := h.Contexts.Set(ctx, contexts.Root(ewc.Context)); err != nil {
		h.Log.WithContext(ctx).WithError(err).Error("could not persist throttle context")
	}
	return h.Queue.Defer(ctx, ewc)
}
