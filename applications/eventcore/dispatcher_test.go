package eventcore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/shared"
	svcerrors "github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

// mockStorage implements every store interface in memory and records each
// persisted context in order.
type mockStorage struct {
	mu        sync.Mutex
	contexts  []contexts.Context
	pipelines map[string]pipeline.Pipeline
	events    map[string]event.Event
	txs       []contexts.Transaction

	verifyResult    bool
	verifyErr       error
	destinationErr  error
	destinationHits int
	connection      connection.Connection
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		pipelines:    map[string]pipeline.Pipeline{},
		events:       map[string]event.Event{},
		verifyResult: true,
	}
}

func (m *mockStorage) Set(_ context.Context, c contexts.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = append(m.contexts, c)
	return nil
}

func (m *mockStorage) Get(_ context.Context, eventKey id.ID, kind contexts.Kind, discriminator string) (*contexts.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.contexts) - 1; i >= 0; i-- {
		c := m.contexts[i]
		if c.EventKey() == eventKey && c.Kind == kind && c.Discriminator() == discriminator {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockStorage) GetEvent(_ context.Context, eventKey id.ID) (event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt, ok := m.events[eventKey.String()]
	if !ok {
		return event.Event{}, errors.New("no event for key")
	}
	return evt, nil
}

func (m *mockStorage) SetEvent(_ context.Context, evt event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[evt.ID.String()] = evt
	return nil
}

func (m *mockStorage) GetDuplicates(_ context.Context, _ event.Event) (event.Duplicates, error) {
	return event.Duplicates{PossibleCollision: true}, nil
}

func (m *mockStorage) FetchConnection(_ context.Context, _ event.Event) (connection.Connection, error) {
	return m.connection, nil
}

func (m *mockStorage) VerifyEvent(_ context.Context, _ event.Event) (bool, error) {
	return m.verifyResult, m.verifyErr
}

func (m *mockStorage) GetPipelines(_ context.Context, _ event.Event) ([]pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStorage) GetPipeline(_ context.Context, key string) (pipeline.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[key]
	if !ok {
		return pipeline.Pipeline{}, errors.New("no pipeline for key " + key)
	}
	return p, nil
}

func (m *mockStorage) ExecuteExtractor(_ context.Context, _ pipeline.HttpExtractor) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (m *mockStorage) SendToDestination(_ context.Context, _ event.Event, _ pipeline.Pipeline, _ *json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinationHits++
	if m.destinationErr != nil {
		return "", m.destinationErr
	}
	return "{}", nil
}

func (m *mockStorage) RecordTransaction(_ context.Context, tx contexts.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return nil
}

type eventStoreAdapter struct{ *mockStorage }

func (a eventStoreAdapter) Get(ctx context.Context, key id.ID) (event.Event, error) {
	return a.GetEvent(ctx, key)
}

func (a eventStoreAdapter) Set(ctx context.Context, evt event.Event) error {
	return a.SetEvent(ctx, evt)
}

func newTestDispatcher(store *mockStorage) *Dispatcher {
	return &Dispatcher{
		Contexts: store,
		Events:   eventStoreAdapter{store},
		Control:  store,
		Log:      logger.New("test", logger.Config{Level: "error"}),
	}
}

func seedEvent(store *mockStorage) event.Event {
	evt := event.Event{
		ID:          id.Now(id.PrefixEvent),
		Key:         id.Now(id.PrefixEventKey),
		Name:        "event.received",
		Type:        "webhook",
		Group:       "my-webhook",
		AccessKey:   "id_live_1_abcd",
		Environment: shared.EnvTest,
		Ownership:   shared.NewOwnership("build-1"),
	}
	store.events[evt.ID.String()] = evt
	return evt
}

func seedPipeline(store *mockStorage) pipeline.Pipeline {
	p := pipeline.Pipeline{
		ID:   id.Now(id.PrefixPipeline),
		Name: "forward",
		Key:  "forward",
		Source: pipeline.Source{
			Type:   "webhook",
			Group:  "my-webhook",
			Events: []string{"event.received"},
		},
		Destination: pipeline.Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe",
			Action: pipeline.Action{
				Type:   pipeline.ActionPassthrough,
				Method: "POST",
				Path:   "customers",
			},
		},
		Environment: shared.EnvTest,
		Ownership:   shared.NewOwnership("build-1"),
	}
	store.pipelines[p.ID.String()] = p
	return p
}

// The ordering contract: the context store receives the root and pipeline
// stages in exactly this order for one event with one matching pipeline and
// no extractors or transformer.
func TestDispatcherContextOrdering(t *testing.T) {
	store := newMockStorage()
	evt := seedEvent(store)
	p := seedPipeline(store)
	dispatcher := newTestDispatcher(store)

	if err := dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID)); err != nil {
		t.Fatalf("ProcessContext error = %v", err)
	}

	type want struct {
		kind      contexts.Kind
		rootStage contexts.RootStageKind
		pipeStage contexts.PipelineStageKind
	}
	wants := []want{
		{kind: contexts.KindRoot, rootStage: contexts.RootStageVerified},
		{kind: contexts.KindRoot, rootStage: contexts.RootStageProcessedDuplicates},
		{kind: contexts.KindRoot, rootStage: contexts.RootStageProcessingPipelines},
		{kind: contexts.KindPipeline, pipeStage: contexts.PipelineStageExecutingExtractors},
		{kind: contexts.KindPipeline, pipeStage: contexts.PipelineStageExecutedExtractors},
		{kind: contexts.KindPipeline, pipeStage: contexts.PipelineStageExecutedTransformer},
		{kind: contexts.KindPipeline, pipeStage: contexts.PipelineStageFinishedPipeline},
		{kind: contexts.KindRoot, rootStage: contexts.RootStageFinished},
	}

	if len(store.contexts) != len(wants) {
		for i, c := range store.contexts {
			t.Logf("context[%d] = %s", i, describe(c))
		}
		t.Fatalf("persisted %d contexts, want %d", len(store.contexts), len(wants))
	}

	for i, w := range wants {
		c := store.contexts[i]
		if c.Kind != w.kind {
			t.Errorf("context[%d].Kind = %s, want %s", i, c.Kind, w.kind)
			continue
		}
		switch w.kind {
		case contexts.KindRoot:
			if c.Root.Stage.Kind != w.rootStage {
				t.Errorf("context[%d] root stage = %s, want %s", i, c.Root.Stage.Kind, w.rootStage)
			}
		case contexts.KindPipeline:
			if c.Pipeline.Stage.Kind != w.pipeStage {
				t.Errorf("context[%d] pipeline stage = %s, want %s", i, c.Pipeline.Stage.Kind, w.pipeStage)
			}
		}
	}

	// The ProcessingPipelines snapshot carries the fresh pipeline context.
	processing := store.contexts[2].Root
	if len(processing.Stage.Pipelines) != 1 {
		t.Fatalf("ProcessingPipelines map = %v", processing.Stage.Pipelines)
	}
	if pctx, ok := processing.Stage.Pipelines[p.ID.String()]; !ok || pctx.Stage.Kind != contexts.PipelineStageNew {
		t.Errorf("pipeline context in map = %+v", pctx)
	}

	// The transformer produced nothing (no middleware) and the destination
	// call recorded a completed transaction.
	executed := store.contexts[5].Pipeline
	if executed.Stage.Transformed != nil {
		t.Errorf("Transformed = %s, want nil", *executed.Stage.Transformed)
	}
	if len(store.txs) != 1 || store.txs[0].State != contexts.TxCompleted {
		t.Errorf("transactions = %+v, want one completed", store.txs)
	}
	if store.destinationHits != 1 {
		t.Errorf("destination hits = %d, want 1", store.destinationHits)
	}
}

func describe(c contexts.Context) string {
	switch c.Kind {
	case contexts.KindRoot:
		return "root:" + string(c.Root.Stage.Kind)
	case contexts.KindPipeline:
		return "pipeline:" + string(c.Pipeline.Stage.Kind)
	default:
		return "extractor:" + string(c.Extractor.Stage.Kind)
	}
}

func TestDispatcherDroppedOnVerificationFailure(t *testing.T) {
	store := newMockStorage()
	store.verifyResult = false
	evt := seedEvent(store)
	dispatcher := newTestDispatcher(store)

	if err := dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID)); err != nil {
		t.Fatalf("ProcessContext error = %v", err)
	}

	last := store.contexts[len(store.contexts)-1]
	if last.Kind != contexts.KindRoot || last.Root.Status.Kind != contexts.StatusDropped {
		t.Errorf("last context = %s status %v", describe(last), last.Root.Status)
	}
}

func TestDispatcherFailedPersistsContext(t *testing.T) {
	store := newMockStorage()
	store.verifyErr = errors.New("store unavailable")
	evt := seedEvent(store)
	dispatcher := newTestDispatcher(store)

	if err := dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID)); err == nil {
		t.Fatal("ProcessContext expected error")
	}

	// Failed transitions still persist a context for observers.
	if len(store.contexts) == 0 {
		t.Fatal("no context persisted on failure")
	}
	last := store.contexts[len(store.contexts)-1]
	if last.Root.Status.Kind != contexts.StatusFailed {
		t.Errorf("status = %v, want Failed", last.Root.Status)
	}
}

func TestDispatcherDestinationFailureRecordsFailedTransaction(t *testing.T) {
	store := newMockStorage()
	store.destinationErr = svcerrors.BadRequest("destination rejected")
	evt := seedEvent(store)
	seedPipeline(store)
	dispatcher := newTestDispatcher(store)

	_ = dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID))

	if len(store.txs) != 1 || store.txs[0].State != contexts.TxFailed {
		t.Fatalf("transactions = %+v, want one failed", store.txs)
	}
	// Non-retriable destination errors are not retried.
	if store.destinationHits != 1 {
		t.Errorf("destination hits = %d, want 1", store.destinationHits)
	}
}

func TestDispatcherRetriesRetriableDestinationErrors(t *testing.T) {
	store := newMockStorage()
	store.destinationErr = svcerrors.Upstream(503, "busy")
	evt := seedEvent(store)
	seedPipeline(store)
	dispatcher := newTestDispatcher(store)
	dispatcher.MaxRetries = 2
	dispatcher.InitialBackoff = time.Millisecond

	_ = dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID))

	// Initial attempt plus two retries.
	if store.destinationHits != 3 {
		t.Errorf("destination hits = %d, want 3", store.destinationHits)
	}
	if len(store.txs) != 1 || store.txs[0].State != contexts.TxFailed {
		t.Errorf("transactions = %+v, want one failed", store.txs)
	}
}

func TestDispatcherExtractorResultsFeedTransformer(t *testing.T) {
	store := newMockStorage()
	evt := seedEvent(store)
	p := seedPipeline(store)
	p.Config.Extractors = []pipeline.HttpExtractor{
		{Key: "lookup", URL: "http://unused", Method: "GET"},
	}
	p.Middleware = []pipeline.Middleware{{
		Key: "reduce",
		Transformer: &connection.Compute{
			Entry:    "transform",
			Function: `function transform(input) { return { enriched: input.lookup !== undefined }; }`,
			Language: "javascript",
		},
	}}
	store.pipelines[p.ID.String()] = p
	dispatcher := newTestDispatcher(store)

	if err := dispatcher.ProcessContext(context.Background(), contexts.NewRootContext(evt.ID)); err != nil {
		t.Fatalf("ProcessContext error = %v", err)
	}

	var transformed *contexts.PipelineContext
	for _, c := range store.contexts {
		if c.Kind == contexts.KindPipeline && c.Pipeline.Stage.Kind == contexts.PipelineStageExecutedTransformer {
			transformed = c.Pipeline
		}
	}
	if transformed == nil || transformed.Stage.Transformed == nil {
		t.Fatal("no transformer output persisted")
	}
	var out map[string]any
	if err := json.Unmarshal(*transformed.Stage.Transformed, &out); err != nil {
		t.Fatalf("transformer output: %v", err)
	}
	if out["enriched"] != true {
		t.Errorf("transformer output = %v", out)
	}

	// Extractor contexts were persisted through their lifecycle.
	var extractorStages []contexts.ExtractorStageKind
	for _, c := range store.contexts {
		if c.Kind == contexts.KindExtractor {
			extractorStages = append(extractorStages, c.Extractor.Stage.Kind)
		}
	}
	if len(extractorStages) != 2 ||
		extractorStages[0] != contexts.ExtractorStageExecuting ||
		extractorStages[1] != contexts.ExtractorStageExecuted {
		t.Errorf("extractor stages = %v", extractorStages)
	}
}
