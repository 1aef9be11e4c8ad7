// Package eventcore runs the event pipeline dispatcher: it pops queued
// events, applies throughput admission, and walks each event through the
// root/pipeline/extractor state machines, persisting a context after every
// transition.
package eventcore

import (
	"context"
	"encoding/json"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
)

// ContextStore persists dispatch progress. Contexts are keyed by
// (event id, kind, discriminator); Get returns the most recent state for
// that key, or nil when none was written.
type ContextStore interface {
	Set(ctx context.Context, c contexts.Context) error
	Get(ctx context.Context, eventKey id.ID, kind contexts.Kind, discriminator string) (*contexts.Context, error)
}

// EventStore reads and updates durable events.
type EventStore interface {
	Get(ctx context.Context, eventKey id.ID) (event.Event, error)
	Set(ctx context.Context, evt event.Event) error
	GetDuplicates(ctx context.Context, evt event.Event) (event.Duplicates, error)
}

// ControlDataStore resolves the control-plane data one event's dispatch
// needs: its connection, matching pipelines, extractors and the destination
// call.
type ControlDataStore interface {
	FetchConnection(ctx context.Context, evt event.Event) (connection.Connection, error)
	VerifyEvent(ctx context.Context, evt event.Event) (bool, error)
	GetPipelines(ctx context.Context, evt event.Event) ([]pipeline.Pipeline, error)
	GetPipeline(ctx context.Context, pipelineKey string) (pipeline.Pipeline, error)
	ExecuteExtractor(ctx context.Context, extractor pipeline.HttpExtractor) (json.RawMessage, error)
	SendToDestination(ctx context.Context, evt event.Event, p pipeline.Pipeline, payload *json.RawMessage) (string, error)
	RecordTransaction(ctx context.Context, tx contexts.Transaction) error
}
